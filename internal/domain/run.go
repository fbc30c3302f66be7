package domain

import (
	"errors"
	"strings"
	"time"
)

// ExpectedFields carries the record a photographed package is checked
// against. Lot, ExpiryDate and PackDate participate in OCR reconciliation;
// ProductCode and ProductDescription are persisted for reporting only.
// Any field may hold the configured sentinel token, which marks it as not
// applicable to this check.
type ExpectedFields struct {
	ProductCode        string `json:"prodCode,omitempty"`
	ProductDescription string `json:"prodDesc,omitempty"`
	Lot                string `json:"lot"`
	ExpiryDate         string `json:"expiryDate"`
	PackDate           string `json:"packDate"`
}

func (f ExpectedFields) IsZero() bool {
	return f == ExpectedFields{}
}

// RequestUser identifies the operator who submitted a run. ID is mandatory:
// the run log enforces a non-null requester column.
type RequestUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type RequestClient struct {
	AppVersion string `json:"appVersion,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
}

type RequestContext struct {
	User   RequestUser    `json:"user"`
	Client *RequestClient `json:"client,omitempty"`
}

// RunInput is what a caller submits to start a verification run.
type RunInput struct {
	Input    BlobRef        `json:"input"`
	Expected ExpectedFields `json:"expectedFields"`
	Request  RequestContext `json:"requestContext"`
}

func (in RunInput) Validate() error {
	if err := in.Input.Validate(); err != nil {
		return err
	}
	if in.Expected.IsZero() {
		return errors.New("expected fields are required")
	}
	if strings.TrimSpace(in.Request.User.ID) == "" {
		return errors.New("request user id is required")
	}
	return nil
}

// StageOutputs collects the artifacts and payloads every pipeline stage
// produced for one run.
type StageOutputs struct {
	Focus     BlobRef            `json:"focus"`
	Contrast  BlobRef            `json:"contrast"`
	Grayscale BlobRef            `json:"grayscale"`
	Barcode   BarcodeStageOutput `json:"barcode"`
	OCR       OCRStageOutput     `json:"ocr"`
}

// RunRecord is the durable outcome of one logical run. It is created on the
// first completion of a run identity and fully overwritten on every replay
// or resubmission; only Identity and CreatedAt survive rewrites.
type RunRecord struct {
	Identity   string           `json:"instanceId"`
	CreatedAt  time.Time        `json:"createdAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Input      BlobRef          `json:"input"`
	Expected   ExpectedFields   `json:"expectedFields"`
	Request    RequestContext   `json:"requestContext"`
	Stages     StageOutputs     `json:"stageOutputs"`
	Validation ValidationResult `json:"validationResult"`
}

func (r RunRecord) Validate() error {
	if strings.TrimSpace(r.Identity) == "" {
		return errors.New("run identity is required")
	}
	if strings.TrimSpace(r.Request.User.ID) == "" {
		return errors.New("requester user id is required")
	}
	if err := r.Input.Validate(); err != nil {
		return err
	}
	return nil
}
