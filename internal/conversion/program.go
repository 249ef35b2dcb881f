// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package conversion

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog/log"
)

const defaultConvertTimeout = 30 * time.Minute

// Program runs an external transcoder (ffmpeg-style) with a templated
// argument list. Placeholders {input}, {output}, and {voucher} are
// substituted per run.
type Program struct {
	Path         string
	ArgsTemplate string
	Timeout      time.Duration
}

// NewProgram creates a Program converter. An empty timeout gets the default.
func NewProgram(path, argsTemplate string, timeout time.Duration) *Program {
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	return &Program{Path: path, ArgsTemplate: argsTemplate, Timeout: timeout}
}

func (p *Program) Convert(ctx context.Context, req Request) error {
	if VoucherRequired(req.Format) && req.VoucherPath == "" {
		return ErrVoucherRequired
	}

	args := p.buildArguments(req)

	runCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().
		Str("command", shellquote.Join(append([]string{p.Path}, args...)...)).
		Msg("running converter")

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("converter timed out after %s: %w", p.Timeout, runCtx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[len(detail)-512:]
		}
		if detail != "" {
			return fmt.Errorf("converter failed: %w: %s", err, detail)
		}
		return fmt.Errorf("converter failed: %w", err)
	}

	log.Debug().
		Str("output", req.OutputPath).
		Dur("duration", time.Since(start)).
		Msg("conversion finished")
	return nil
}

// buildArguments substitutes run values into the argument template. The
// template is shell-split before substitution so placeholders may expand to
// values containing spaces without re-splitting.
func (p *Program) buildArguments(req Request) []string {
	values := map[string]string{
		"input":   req.InputPath,
		"output":  req.OutputPath,
		"voucher": req.VoucherPath,
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
