package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/packlens-labs/packlens-go/internal/platform/env"
)

// pdfConverter calls an external HTML-to-PDF conversion API. The converter
// is optional: when no endpoint is configured reports stay HTML only.
type pdfConverter struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type converterError struct {
	StatusCode int
	Body       string
}

func (e *converterError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("pdf converter error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("pdf converter error (status=%d): %s", e.StatusCode, body)
}

// newPDFConverterFromEnv returns nil when REPORT_PDF_CONVERTER_URL is unset.
func newPDFConverterFromEnv() (*pdfConverter, error) {
	baseURL := strings.TrimSpace(env.String("REPORT_PDF_CONVERTER_URL", ""))
	if baseURL == "" {
		return nil, nil
	}
	timeout, err := env.Duration("REPORT_PDF_CONVERTER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return &pdfConverter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(env.String("REPORT_PDF_CONVERTER_API_KEY", "")),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *pdfConverter) Convert(ctx context.Context, html []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("build convert request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	req.Header.Set("Accept", "application/pdf")
	if c.apiKey != "" {
		req.Header.Set("Apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("convert report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &converterError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read converted report: %w", err)
	}
	if len(pdf) == 0 {
		return nil, &converterError{StatusCode: resp.StatusCode, Body: "empty response body"}
	}
	return pdf, nil
}
