package invoice

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/clinic"
)

// S3API is the subset of the S3 client used by Archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads rendered invoices to S3. With no bucket it does nothing.
type Archiver struct {
	bucket string
	client S3API
	logger zerolog.Logger
}

func NewArchiver(client S3API, bucket string, logger zerolog.Logger) *Archiver {
	return &Archiver{
		bucket: bucket,
		client: client,
		logger: logger.With().Str("component", "invoice-archive").Logger(),
	}
}

func (a *Archiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

// Key is the object key of an invoice: invoices/<tenant>/<yyyy>/<mm>/<number>.html.
func Key(v clinic.InvoiceView) string {
	year, month := "0000", "00"
	if parts := strings.SplitN(v.Bill.Date, "-", 3); len(parts) == 3 {
		year, month = parts[0], parts[1]
	}
	return fmt.Sprintf("invoices/%s/%s/%s/%s.html", v.Bill.TenantID, year, month, v.Bill.Number)
}

func (a *Archiver) ArchiveInvoice(ctx context.Context, v clinic.InvoiceView) error {
	if !a.Enabled() {
		return nil
	}

	var buf bytes.Buffer
	if err := Render(&buf, v); err != nil {
		return err
	}

	key := Key(v)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/html; charset=utf-8"),
		Metadata: map[string]string{
			"bill-id":        v.Bill.ID,
			"appointment-id": v.Bill.AppointmentID,
		},
	})
	if err != nil {
		return fmt.Errorf("invoice archive: s3 put %s: %w", key, err)
	}

	a.logger.Info().
		Str("tenant_id", v.Bill.TenantID).
		Str("bill_id", v.Bill.ID).
		Str("s3_key", key).
		Msg("archived invoice")
	return nil
}
