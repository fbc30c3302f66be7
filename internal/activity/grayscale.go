package activity

import (
	"context"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

// Grayscaler produces the black-and-white frame both extraction stages
// read from.
type Grayscaler struct {
	Store      objectstore.Store
	WorkBucket string
}

func (g *Grayscaler) Transform(ctx context.Context, in domain.BlobRef) (domain.BlobRef, error) {
	img, err := downloadImage(ctx, g.Store, in)
	if err != nil {
		return domain.BlobRef{}, err
	}
	return uploadPNG(ctx, g.Store, g.WorkBucket, freshName("bw"), toGray(img))
}
