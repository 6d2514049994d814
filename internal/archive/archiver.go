// Package archive stores finished utterances as tagged WAV files in one
// directory per day.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/config"
)

var (
	// ErrEmptyAudio is returned when there is nothing to store.
	ErrEmptyAudio = errors.New("archive: empty audio")
	// ErrInvalidDate is returned for an override date that is not YYMMDD.
	ErrInvalidDate = errors.New("archive: override date must be YYMMDD")

	datePattern = regexp.MustCompile(`^\d{6}$`)
)

const (
	dayLayout   = "060102"
	stampLayout = "0601021504"
	software    = "loqa-reader"
	maxAttempts = 1000
)

type Options struct {
	Root         string
	Artist       string
	AlbumPrefix  string
	ArtworkPath  string
	OverrideDate string
}

func OptionsFromConfig(cfg config.ArchiveConfig) Options {
	return Options{
		Root:         cfg.Root,
		Artist:       cfg.Artist,
		AlbumPrefix:  cfg.AlbumPrefix,
		ArtworkPath:  cfg.ArtworkPath,
		OverrideDate: cfg.OverrideDate,
	}
}

// ValidateDate checks a YYMMDD override.
func ValidateDate(date string) error {
	if !datePattern.MatchString(date) {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

// Archiver writes one file per completed utterance. Calls are serialized so
// track numbers and file names stay unique.
type Archiver struct {
	opts  Options
	log   *slog.Logger
	clock func() time.Time
	mu    sync.Mutex
}

func New(opts Options, log *slog.Logger) (*Archiver, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("archive: root directory is required")
	}
	if opts.OverrideDate != "" {
		if err := ValidateDate(opts.OverrideDate); err != nil {
			return nil, err
		}
	}
	return &Archiver{
		opts:  opts,
		log:   log.With(slog.String("component", "archive")),
		clock: time.Now,
	}, nil
}

// Archive encodes seg under <root>/<YYMMDD>/ and returns the file path.
func (a *Archiver) Archive(ctx context.Context, seg audio.Segment, text string) (string, error) {
	if seg.Empty() {
		return "", ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	day := now.Format(dayLayout)
	stamp := now.Format(stampLayout)
	if a.opts.OverrideDate != "" {
		day = a.opts.OverrideDate
		stamp = day + now.Format("1504")
	}

	dir := filepath.Join(a.opts.Root, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	track := countTracks(dir) + 1
	file, path, err := createUnique(dir, stamp+"_"+FileTitle(text))
	if err != nil {
		return "", err
	}

	meta := &wav.Metadata{
		Artist:   a.opts.Artist,
		Product:  a.opts.AlbumPrefix + "_" + day,
		Title:    TagTitle(text),
		TrackNbr: strconv.Itoa(track),
		Software: software,
	}
	if err := audio.EncodeWAV(file, seg, meta); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("encode archive: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close archive: %w", err)
	}

	if err := a.copyArtwork(dir); err != nil {
		a.log.Warn("artwork copy failed", slog.String("error", err.Error()))
	}

	a.log.Info("archived utterance",
		slog.String("path", path),
		slog.Int("track", track),
		slog.Duration("duration", seg.Duration()))
	return path, nil
}

func countTracks(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			n++
		}
	}
	return n
}

// createUnique opens base.wav, falling back to base_2.wav, base_3.wav and so
// on when a file already exists.
func createUnique(dir, base string) (*os.File, string, error) {
	for i := 1; i <= maxAttempts; i++ {
		name := base + ".wav"
		if i > 1 {
			name = fmt.Sprintf("%s_%d.wav", base, i)
		}
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create archive file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create archive file: too many files named %s", base)
}

// copyArtwork places the configured cover next to the day's files once.
func (a *Archiver) copyArtwork(dir string) error {
	if a.opts.ArtworkPath == "" {
		return nil
	}
	src, err := os.Open(a.opts.ArtworkPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(a.opts.ArtworkPath))
	if ext == "" {
		ext = ".jpg"
	}
	target := filepath.Join(dir, "cover"+ext)
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(target)
		return err
	}
	return dst.Close()
}
