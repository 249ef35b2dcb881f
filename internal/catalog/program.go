// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog/log"
)

const defaultDownloadTimeout = 2 * time.Hour

// audioExtensions are the artifact extensions an external downloader may
// produce, in preference order.
var audioExtensions = []string{".aaxc", ".aax", ".ax2", ".m4b", ".m4a", ".mp3"}

// ProgramDownloader shells out to an external catalog downloader (an
// audible-cli style tool). Placeholders {catalog_id}, {output_dir},
// {filename}, {format}, and {quality} are substituted into the argument
// template. The artifact and optional voucher are located under the output
// directory afterwards.
type ProgramDownloader struct {
	Path         string
	ArgsTemplate string
	Timeout      time.Duration
}

// NewProgramDownloader creates a ProgramDownloader. An empty timeout gets
// the default.
func NewProgramDownloader(path, argsTemplate string, timeout time.Duration) *ProgramDownloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &ProgramDownloader{Path: path, ArgsTemplate: argsTemplate, Timeout: timeout}
}

func (p *ProgramDownloader) Download(ctx context.Context, req Request, progress ProgressFunc, cancel *CancelToken) (*Result, error) {
	runCtx, stop := context.WithTimeout(ctx, p.Timeout)
	defer stop()

	args := p.buildArguments(req)
	cmd := exec.CommandContext(runCtx, p.Path, args...)

	log.Debug().
		Str("catalogID", req.CatalogID).
		Str("command", shellquote.Join(append([]string{p.Path}, args...)...)).
		Msg("running catalog downloader")

	if progress != nil {
		progress(0, 0, "starting catalog download")
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start catalog downloader: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-cancel.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, ErrCancelled
	case err := <-done:
		if err != nil {
			if runCtx.Err() != nil {
				return nil, fmt.Errorf("catalog downloader timed out: %w", runCtx.Err())
			}
			return nil, fmt.Errorf("catalog downloader failed: %w", err)
		}
	}

	if cancel.Cancelled() {
		return nil, ErrCancelled
	}

	audioPath, err := locateAudio(req.OutputDir)
	if err != nil {
		return nil, err
	}
	voucherPath := locateVoucher(req.OutputDir)

	if progress != nil {
		progress(1, 1, "catalog download finished")
	}

	return &Result{
		AudioPath:   audioPath,
		VoucherPath: voucherPath,
		Format:      req.Format,
	}, nil
}

func (p *ProgramDownloader) buildArguments(req Request) []string {
	values := map[string]string{
		"catalog_id": req.CatalogID,
		"output_dir": req.OutputDir,
		"filename":   req.Filename,
		"format":     string(req.Format),
		"quality":    req.Quality,
	}

	args, err := shellquote.Split(p.ArgsTemplate)
	if err != nil {
		args = strings.Fields(p.ArgsTemplate)
	}
	for i := range args {
		for key, value := range values {
			args[i] = strings.ReplaceAll(args[i], "{"+key+"}", value)
		}
	}
	return args
}

func locateAudio(dir string) (string, error) {
	bestPath := ""
	bestRank := len(audioExtensions)
	var bestSize int64 = -1

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		rank := -1
		for i, known := range audioExtensions {
			if ext == known {
				rank = i
				break
			}
		}
		if rank < 0 {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if rank < bestRank || (rank == bestRank && fi.Size() > bestSize) {
			bestPath = path
			bestRank = rank
			bestSize = fi.Size()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan downloader output: %w", err)
	}
	if bestPath == "" {
		return "", fmt.Errorf("catalog downloader produced no audio file in %s", dir)
	}
	return bestPath, nil
}

func locateVoucher(dir string) string {
	voucher := ""
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".voucher") {
			voucher = path
			return filepath.SkipAll
		}
		return nil
	})
	return voucher
}
