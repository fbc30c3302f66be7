// Package domain holds the data model of the package-verification pipeline.
package domain

import (
	"errors"
	"strings"
)

// BlobRef points at an immutable byte artifact in object storage. Stages
// never overwrite a referenced artifact; every stage writes its output under
// a freshly generated name.
type BlobRef struct {
	Container string `json:"container"`
	Name      string `json:"blobName"`
}

func (r BlobRef) IsZero() bool {
	return strings.TrimSpace(r.Container) == "" && strings.TrimSpace(r.Name) == ""
}

func (r BlobRef) Validate() error {
	if strings.TrimSpace(r.Container) == "" {
		return errors.New("blob container is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("blob name is required")
	}
	return nil
}
