// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package conversion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenarr/listenarr/internal/catalog"
)

func TestBuildArgumentsSplitting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		want     []string
	}{
		{"plain", "-i a -o b", []string{"-i", "a", "-o", "b"}},
		{"double quoted", `-i a --title "A Book"`, []string{"-i", "a", "--title", "A Book"}},
		{"single quoted", `--meta 'a b'`, []string{"--meta", "a b"}},
		{"nested other quote", `--meta "it's fine"`, []string{"--meta", "it's fine"}},
		{"collapsed spaces", "a   b", []string{"a", "b"}},
		{"unterminated quote falls back to fields", `--meta "a`, []string{"--meta", `"a`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewProgram("/usr/bin/converter", tt.template, 0)
			assert.Equal(t, tt.want, p.buildArguments(Request{}))
		})
	}

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		p := NewProgram("/usr/bin/converter", "", 0)
		assert.Empty(t, p.buildArguments(Request{}))
	})
}

func TestBuildArguments(t *testing.T) {
	t.Parallel()

	p := NewProgram("/usr/bin/converter", `-i {input} --voucher {voucher} -o "{output}"`, 0)
	args := p.buildArguments(Request{
		InputPath:   "/tmp/listenarr-1/book.aaxc",
		OutputPath:  "/tmp/conv/My Book.m4b",
		VoucherPath: "/tmp/listenarr-1/book.voucher",
	})
	assert.Equal(t, []string{
		"-i", "/tmp/listenarr-1/book.aaxc",
		"--voucher", "/tmp/listenarr-1/book.voucher",
		"-o", "/tmp/conv/My Book.m4b",
	}, args)
}

func TestProgramConvertRequiresVoucher(t *testing.T) {
	t.Parallel()

	p := NewProgram("/usr/bin/converter", "-i {input}", time.Minute)
	err := p.Convert(context.Background(), Request{
		InputPath: "/tmp/book.aaxc",
		Format:    catalog.FormatEncryptedB,
	})
	assert.ErrorIs(t, err, ErrVoucherRequired)
}

func TestProgramConvertRuns(t *testing.T) {
	t.Parallel()

	p := NewProgram("/bin/sh", `-c "exit 0"`, time.Minute)
	err := p.Convert(context.Background(), Request{InputPath: "/tmp/in.aax", OutputPath: "/tmp/out.m4b", Format: catalog.FormatEncryptedA})
	assert.NoError(t, err)
}

func TestProgramConvertReportsStderr(t *testing.T) {
	t.Parallel()

	p := NewProgram("/bin/sh", `-c "echo boom >&2; exit 1"`, time.Minute)
	err := p.Convert(context.Background(), Request{InputPath: "/tmp/in.aax", OutputPath: "/tmp/out.m4b", Format: catalog.FormatEncryptedA})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestProgramDefaultTimeout(t *testing.T) {
	t.Parallel()

	p := NewProgram("/usr/bin/converter", "", 0)
	assert.Equal(t, defaultConvertTimeout, p.Timeout)
}
