// Package main provides a command that uploads a local video file into the
// coach/student key space, in parts when the file is large.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/airfobrien/tennispro-sub000/internal/access"
	"github.com/airfobrien/tennispro-sub000/internal/bootstrap"
	"github.com/airfobrien/tennispro-sub000/internal/config"
	"github.com/airfobrien/tennispro-sub000/internal/keyspace"
	"github.com/airfobrien/tennispro-sub000/internal/upload"
)

// videoTypes covers extensions the mime package does not know on every system.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

func detectContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	ct, _, _ := strings.Cut(mime.TypeByExtension(ext), ";")
	return ct
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	coachID := flag.String("coach", "", "coach ID (required)")
	studentID := flag.String("student", "", "student ID (required)")
	contentType := flag.String("type", "", "content type; guessed from the extension when empty")
	playback := flag.Bool("playback", false, "print a playback URL after the upload")
	presigned := flag.Bool("presigned", false, "send the file through a presigned upload grant instead of the store client")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s -coach ID -student ID [flags] FILE\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *coachID == "" || *studentID == "" || flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("coach, student and exactly one file are required")
	}
	path := flag.Arg(0)
	if err := keyspace.ValidateOwner(*coachID, *studentID); err != nil {
		return err
	}

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	ct := *contentType
	if ct == "" {
		ct = detectContentType(path)
	}
	if !access.ContentTypeAllowed(ct) {
		return fmt.Errorf("content type %q is not an allowed video type", ct)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.NewStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	manager, err := upload.NewManager(store,
		upload.WithPartSize(cfg.PartSizeBytes()),
		upload.WithMaxConcurrentParts(cfg.UploadMaxConcurrentParts),
		upload.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	f, err := os.Open(path) // #nosec G304 - path is the user's argument
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	issuer, err := bootstrap.NewIssuer(cfg, store, logger)
	if err != nil {
		return err
	}

	key := keyspace.MakeVideoKey(*coachID, *studentID, filepath.Base(path))

	if *presigned {
		if upload.ShouldUseMultipart(info.Size()) {
			return fmt.Errorf("%d bytes needs a multipart upload; drop -presigned", info.Size())
		}
		grant, err := issuer.UploadGrant(ctx, key, ct, info.Size())
		if err != nil {
			return fmt.Errorf("upload grant: %w", err)
		}
		if err := upload.PutToGrant(ctx, nil, grant, f, info.Size()); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		logger.Info("upload complete",
			slog.String("key", key),
			slog.Int64("size", info.Size()),
			slog.Bool("presigned", true),
		)
		fmt.Println(key)
		return printPlayback(ctx, issuer, *playback, key)
	}

	res, err := manager.Upload(ctx, upload.Input{
		Key:         key,
		ContentType: ct,
		Body:        f,
		Size:        info.Size(),
		Progress: func(p upload.Progress) error {
			fmt.Fprintf(os.Stderr, "\rpart %d/%d  %6.2f%%", p.PartNumber, p.TotalParts, p.Percentage)
			return nil
		},
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	logger.Info("upload complete",
		slog.String("key", res.Key),
		slog.Int64("size", res.Size),
		slog.Int("parts", res.Parts),
		slog.Bool("multipart", res.Multipart),
	)
	fmt.Println(res.Key)

	return printPlayback(ctx, issuer, *playback, res.Key)
}

func printPlayback(ctx context.Context, issuer *access.Issuer, enabled bool, key string) error {
	if !enabled {
		return nil
	}
	pb, err := issuer.PlaybackURL(ctx, key)
	if err != nil {
		return fmt.Errorf("playback url: %w", err)
	}
	fmt.Printf("%s (%s, expires %s)\n", pb.URL, pb.Scheme, pb.ExpiresAt.Format("2006-01-02 15:04 MST"))
	return nil
}
