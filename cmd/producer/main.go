// Command producer watches a directory for PDF files, uploads each to the
// source PDF bucket, and publishes a preprocess Task onto the task queue,
// feeding the worker from the other end of the broker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docworker/ingestworker/internal/storage"
	"github.com/docworker/ingestworker/internal/task"
)

func main() {
	var (
		dataDir = flag.String("dir", "/tmp/docworker-incoming", "directory to scan for PDF files")
		amqpURL = flag.String("amqp", fmt.Sprintf("amqp://%s:%s@%s:%s/",
			envOr("RABBITMQ_USER", "guest"), envOr("RABBITMQ_PASSWORD", "guest"),
			envOr("RABBITMQ_HOST", "localhost"), envOr("RABBITMQ_PORT", "5672")), "AMQP broker URL")
		taskQueue = flag.String("task-queue", envOr("RABBITMQ_TASK_QUEUE", "taskQueue"), "task queue name")
		interval  = flag.Duration("interval", 30*time.Second, "scan interval")
		stateFile = flag.String("state", "/tmp/docworker-incoming/.producer-state.json", "published files state")
		docType   = flag.String("doc-type", "paper", "docType tag stamped on every produced task")

		s3Endpoint  = flag.String("s3-endpoint", envOr("MINIO_ENDPOINT", "http://localhost:9000"), "S3-compatible endpoint")
		s3Region    = flag.String("s3-region", envOr("MINIO_REGION", "us-east-1"), "S3 region")
		s3AccessKey = flag.String("s3-access-key", envOr("MINIO_ACCESS", "minioadmin"), "S3 access key")
		s3SecretKey = flag.String("s3-secret-key", envOr("MINIO_SECRET", "minioadmin"), "S3 secret key")
		pdfBucket   = flag.String("pdf-bucket", envOr("MINIO_PDF_BUCKET", "mybucket"), "source PDF bucket")
		prepBucket  = flag.String("prep-bucket", envOr("MINIO_PREPROCESSED_FILES_BUCKET", "prep"), "preprocessed artifact bucket")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.NewS3Backend(ctx, *s3Endpoint, *s3Region, *s3AccessKey, *s3SecretKey, true,
		storage.Policy{PDFBucket: *pdfBucket, PreprocessedBucket: *prepBucket})
	if err != nil {
		logger.Error("storage backend init failed", "error", err)
		os.Exit(1)
	}

	conn, err := amqp.Dial(*amqpURL)
	if err != nil {
		logger.Error("amqp dial failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Error("amqp channel failed", "error", err)
		os.Exit(1)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(*taskQueue, true, false, false, false, nil); err != nil {
		logger.Error("queue declare failed", "error", err)
		os.Exit(1)
	}

	os.MkdirAll(*dataDir, 0o755)
	processed := loadState(*stateFile)

	logger.Info("watching for pdf files", "dir", *dataDir, "interval", *interval)

	scan := func() {
		entries, err := os.ReadDir(*dataDir)
		if err != nil {
			logger.Error("readdir failed", "error", err)
			return
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
				continue
			}
			info, _ := e.Info()
			key := fmt.Sprintf("%s:%d", e.Name(), info.Size())
			if processed[key] {
				continue
			}

			if err := publishOne(ctx, ch, backend, *dataDir, e.Name(), *taskQueue, *docType, *pdfBucket); err != nil {
				logger.Error("publish failed", "file", e.Name(), "error", err)
				continue
			}
			logger.Info("published task", "file", e.Name())
			processed[key] = true
			saveState(*stateFile, processed)
		}
	}

	scan()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// publishOne uploads fileName to the source PDF bucket and publishes a
// minimal PENDING Task envelope for it.
func publishOne(ctx context.Context, ch *amqp.Channel, backend storage.Backend, dataDir, fileName, taskQueue, docType, pdfBucket string) error {
	localPath := filepath.Join(dataDir, fileName)
	if err := backend.Upload(ctx, localPath, fileName, pdfBucket); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	t := task.Task{
		TaskID:    uuid.New(),
		Status:    task.StatusPending,
		CreatedAt: time.Now(),
		TaskType:  "default",
		Document: task.Document{
			Title:    strings.TrimSuffix(fileName, filepath.Ext(fileName)),
			FileName: fileName,
			DocType:  docType,
		},
	}

	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	return ch.PublishWithContext(ctx, "", taskQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	os.WriteFile(path, data, 0o644)
}
