// Package thumbnail extracts the embedded cover art from audio objects via
// ffmpeg. The object is fetched from the upstream store into a temporary
// file, the cover stream is copied out as a JPEG, and the temporary source
// is removed; the caller owns (and eventually removes) the produced image.
package thumbnail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/google/uuid"
)

var log = logger.Get("Thumbnail")

type (
	Config struct {
		FfmpegBinPath  string `yaml:"ffmpegBinPath" env:"FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
		FfprobeBinPath string `yaml:"ffprobeBinPath" env:"FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
		OutputDir      string `yaml:"outputDir" env:"THUMBNAIL_OUTPUT_DIR"`
	}

	// Fetcher downloads an upstream object to a local file and returns its
	// path. The extractor removes the file when it's done with it.
	Fetcher interface {
		FetchToFile(ctx context.Context, fileRef string) (string, error)
	}

	extractor struct {
		config  Config
		fetcher Fetcher
	}
)

func New(config Config, fetcher Fetcher) *extractor {
	if config.OutputDir == "" {
		config.OutputDir = os.TempDir()
	}

	return &extractor{config: config, fetcher: fetcher}
}

// ExtractCover fetches the object behind fileRef and copies its embedded
// cover stream to a new JPEG, returning the path of the produced image.
func (ex *extractor) ExtractCover(ctx context.Context, fileRef string) (string, error) {
	sourcePath, err := ex.fetcher.FetchToFile(ctx, fileRef)
	if err != nil {
		return "", fmt.Errorf("failed to fetch object for cover extraction: %w", err)
	}
	defer os.Remove(sourcePath)

	outputPath := filepath.Join(ex.config.OutputDir, fmt.Sprintf("cover-%s.jpg", uuid.New()))
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return "", err
	}

	skipAudio := true
	videoCodec := "copy"
	overwrite := true
	opts := &ffmpeg.Options{
		SkipAudio:  &skipAudio,
		VideoCodec: &videoCodec,
		Overwrite:  &overwrite,
	}

	progressChannel, err := ffmpeg.
		New(&ffmpeg.Config{
			FfmpegBinPath:  ex.config.FfmpegBinPath,
			FfprobeBinPath: ex.config.FfprobeBinPath,
		}).
		Input(sourcePath).
		Output(outputPath).
		WithContext(&ctx).
		Start(opts)
	if err != nil {
		return "", parseFfmpegError(err)
	}

	// Drain the progress channel; cover extraction is near-instant so the
	// channel closing is the completion signal.
	for range progressChannel {
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("cover extraction produced no output: %w", err)
	}

	log.Emit(logger.DEBUG, "Extracted embedded cover of %s to %s\n", fileRef, outputPath)
	return outputPath, nil
}

// parseFfmpegError tries to pick the relevant information out of the HUGE
// output log from ffmpeg; the error contains lots of noise about how the
// binary was compiled, while the 'message' JSON inside holds the cause.
func parseFfmpegError(err error) error {
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	var out map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil {
		return errors.New(groups[1])
	}

	if exception, ok := out["error"].(map[string]interface{}); ok {
		if message, ok := exception["string"].(string); ok {
			return errors.New(message)
		}
	}

	return err
}
