package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/didash/notifier/internal/domain"
	"github.com/didash/notifier/internal/repository"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchRows   = 5000
	defaultConcurrency = 2
)

// Processor loads zipped classification exports from a pickup directory into
// the raw document table. Archives are independent; a corrupt one is logged
// and skipped without stopping the rest of the load.
type Processor struct {
	raw         repository.RawDocumentRepository
	pickupPath  string
	loadDomain  string
	batchRows   int
	concurrency int
	logger      *zap.Logger
}

func NewProcessor(
	raw repository.RawDocumentRepository,
	pickupPath string,
	loadDomain string,
	batchRows int,
	concurrency int,
	logger *zap.Logger,
) (*Processor, error) {
	if raw == nil {
		return nil, fmt.Errorf("raw document repository is required")
	}
	if strings.TrimSpace(pickupPath) == "" {
		return nil, fmt.Errorf("pickup path is required")
	}
	if strings.TrimSpace(loadDomain) == "" {
		return nil, fmt.Errorf("load domain is required")
	}
	if batchRows <= 0 {
		batchRows = defaultBatchRows
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		raw:         raw,
		pickupPath:  pickupPath,
		loadDomain:  loadDomain,
		batchRows:   batchRows,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Run ingests every .zip archive in the pickup directory and returns the total
// number of rows inserted. An empty pickup directory is not an error; it just
// means there is nothing to load yet.
func (p *Processor) Run(ctx context.Context) (int64, error) {
	archives, err := p.listArchives()
	if err != nil {
		return 0, err
	}
	if len(archives) == 0 {
		p.logger.Error("no archives found in pickup path", zap.String("path", p.pickupPath))
		return 0, nil
	}

	var total atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)

	for _, archive := range archives {
		archive := archive
		group.Go(func() error {
			rows, err := p.processArchive(groupCtx, archive)
			if err != nil {
				// Bad archives must not sink the whole load.
				p.logger.Error("archive skipped",
					zap.String("archive", archive),
					zap.Error(err),
				)
				return nil
			}
			total.Add(rows)
			p.logger.Info("archive ingested",
				zap.String("archive", archive),
				zap.Int64("rows", rows),
			)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return total.Load(), err
	}

	p.logger.Info("ingest finished",
		zap.Int("archives", len(archives)),
		zap.Int64("rows", total.Load()),
	)
	return total.Load(), nil
}

func (p *Processor) listArchives() ([]string, error) {
	entries, err := os.ReadDir(p.pickupPath)
	if err != nil {
		return nil, fmt.Errorf("read pickup path: %w", err)
	}

	var archives []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".zip") {
			archives = append(archives, filepath.Join(p.pickupPath, entry.Name()))
		}
	}
	return archives, nil
}

func (p *Processor) processArchive(ctx context.Context, path string) (int64, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	var rows int64
	for _, file := range reader.File {
		if ctx.Err() != nil {
			return rows, ctx.Err()
		}
		if file.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(file.Name), ".csv") {
			continue
		}

		n, err := p.processCSV(ctx, file)
		if err != nil {
			return rows, fmt.Errorf("file %s: %w", file.Name, err)
		}
		rows += n
	}
	return rows, nil
}

// processCSV streams one CSV entry, flushing accumulated rows in batches so a
// large export never sits fully in memory.
func (p *Processor) processCSV(ctx context.Context, file *zip.File) (int64, error) {
	rc, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("read header: %w", err)
	}

	mapper, err := NewRowMapper(header, p.loadDomain)
	if err != nil {
		return 0, err
	}

	var inserted int64
	batch := make([]domain.RawDocument, 0, p.batchRows)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.raw.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		inserted += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return inserted, fmt.Errorf("read record: %w", err)
		}

		doc := mapper.Map(record)
		if doc.FullPath == "" {
			continue
		}
		batch = append(batch, doc)

		if len(batch) >= p.batchRows {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}
