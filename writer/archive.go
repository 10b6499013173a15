package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "whaleflow/config"
	"whaleflow/logger"
	"whaleflow/models"
)

// ArchiveRecord is the parquet row layout for archived alerts.
type ArchiveRecord struct {
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Underlying string  `parquet:"name=underlying, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Size       int64   `parquet:"name=size, type=INT64"`
	Premium    float64 `parquet:"name=premium, type=DOUBLE"`
	Notional   float64 `parquet:"name=notional, type=DOUBLE"`
	Tier       string  `parquet:"name=tier, type=BYTE_ARRAY, convertedtype=UTF8"`
	Direction  string  `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	Confidence int32   `parquet:"name=confidence, type=INT32"`
	ITMStatus  string  `parquet:"name=itm_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Strike     float64 `parquet:"name=strike, type=DOUBLE"`
	OptionType string  `parquet:"name=option_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Expiration string  `parquet:"name=expiration, type=BYTE_ARRAY, convertedtype=UTF8"`
	Flags      string  `parquet:"name=flags, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// Archiver persists qualifying alerts as parquet objects in S3, one object
// per flushed batch.
type Archiver struct {
	config   *appconfig.Config
	s3Client *s3.Client
	minTier  models.Tier
	log      *logger.Log
}

func NewArchiver(cfg *appconfig.Config) (*Archiver, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archiver").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	archiver := &Archiver{
		config:   cfg,
		s3Client: s3Client,
		minTier:  cfg.MinReportTier(),
		log:      log,
	}

	log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
		"min_tier":   string(archiver.minTier),
	}).Info("archiver initialized")

	return archiver, nil
}

// ArchiveBatch writes the batch's qualifying trades to S3. Batches with no
// trades at or above the minimum tier are skipped.
func (a *Archiver) ArchiveBatch(ctx context.Context, batch models.AnnotatedBatch) error {
	records := recordsForArchive(batch.Trades, a.minTier)
	if len(records) == 0 {
		return nil
	}

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"underlying":   batch.Underlying,
		"record_count": len(records),
		"operation":    "archive_batch",
	})

	data, err := a.createParquetFile(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return err
	}

	key := a.objectKey(batch)
	if err := a.upload(ctx, key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": a.config.Storage.S3.Bucket, "s3_key": key}).
			Error("failed to upload to S3")
		return err
	}

	log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("batch archived successfully")
	return nil
}

// recordsForArchive converts trades at or above minTier to parquet rows.
func recordsForArchive(trades []models.AnnotatedTrade, minTier models.Tier) []ArchiveRecord {
	var records []ArchiveRecord
	for _, trade := range trades {
		if !trade.Tier.AtLeast(minTier) {
			continue
		}

		record := ArchiveRecord{
			Symbol:     trade.Symbol,
			Underlying: trade.Underlying(),
			Timestamp:  trade.Timestamp.UnixMilli(),
			Price:      trade.Price,
			Size:       trade.Size,
			Premium:    trade.Premium,
			Notional:   trade.Notional,
			Tier:       string(trade.Tier),
			Direction:  string(trade.Direction),
			Confidence: int32(trade.Confidence),
			ITMStatus:  string(trade.ITMStatus),
			Flags:      joinFlags(trade.Flags),
		}
		if trade.Option != nil {
			record.Strike = trade.Option.Strike
			record.OptionType = string(trade.Option.Type)
			record.Expiration = trade.Option.ExpirationLabel()
		}
		records = append(records, record)
	}
	return records
}

func joinFlags(flags []models.Flag) string {
	if len(flags) == 0 {
		return ""
	}
	parts := make([]string, len(flags))
	for i, flag := range flags {
		parts[i] = string(flag)
	}
	return strings.Join(parts, ",")
}

func (a *Archiver) objectKey(batch models.AnnotatedBatch) string {
	ts := batch.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	prefix := a.config.Storage.S3.KeyPrefix
	if prefix == "" {
		prefix = "alerts"
	}

	filename := fmt.Sprintf("whaleflow_%s_%s_%s.parquet",
		batch.Underlying,
		ts.UTC().Format("20060102150405"),
		uuid.New().String())

	return path.Join(prefix,
		fmt.Sprintf("underlying=%s", batch.Underlying),
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		filename)
}

func (a *Archiver) createParquetFile(records []ArchiveRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(ArchiveRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch a.config.Writer.Parquet.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, record := range records {
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (a *Archiver) upload(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       a.config.Writer.Parquet.Compression,
			"whaleflow-version": a.config.Whaleflow.Version,
		},
	}

	_, err := a.s3Client.PutObject(context.WithoutCancel(ctx), input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.Storage.S3.Bucket, err)
	}
	return nil
}
