// Copyright The vrfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/kotiq/vrfs"
)

func newUnpackCommand() *cli.Command {
	return &cli.Command{
		Name:      "unpack",
		Usage:     "extract a VROMFS image's entries to a directory",
		ArgsUsage: "<path> <outdir>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:               "sniff-blk",
				Usage:              "classify .blk members instead of raw-copying them",
				DisableDefaultText: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("%w: unpack takes a path and an output directory", ErrFlagParse)
			}
			u := &unpackCmd{
				path:     c.Args().Get(0),
				outDir:   c.Args().Get(1),
				sniffBlk: c.Bool("sniff-blk"),
			}
			return u.Run(c)
		},
	}
}

type unpackCmd struct {
	path     string
	outDir   string
	sniffBlk bool
}

func (u *unpackCmd) Run(c *cli.Context) error {
	bin, err := vrfs.OpenBin(u.path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrVrfstool, u.path, err)
	}
	defer bin.Close()

	vro, err := vrfs.OpenVromfs(bin)
	if err != nil {
		return fmt.Errorf("%w: reading directory: %w", ErrVrfstool, err)
	}
	defer vro.Close()

	var failed int
	yield := func(path string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(c.App.ErrWriter, "%s: %s: %v\n", c.App.Name, path, err)
			return
		}
		fmt.Fprintf(c.App.Writer, "%s\n", path)
	}

	if !u.sniffBlk {
		vro.UnpackIter(nil, u.outDir, func(res vrfs.UnpackResult) { yield(res.Path, res.Err) })
		if failed > 0 {
			return fmt.Errorf("%w: %d entries failed to unpack", ErrVrfstool, failed)
		}
		return nil
	}

	for _, info := range vro.InfoList() {
		yield(info.Path, u.unpackSniffed(vro, info))
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d entries failed to unpack", ErrVrfstool, failed)
	}
	return nil
}

// unpackSniffed extracts one entry, deciding its output suffix from a BLK
// sniff: ZSTD-marked .blk variants are decompressed via the image's
// dictionary decoder, unrecognized content is written with a .raw suffix,
// and everything else is copied as-is.
func (u *unpackCmd) unpackSniffed(vro *vrfs.VromfsFile, info vrfs.FileInfo) error {
	var raw bytes.Buffer
	if err := vro.UnpackInto(info, &raw); err != nil {
		return err
	}

	targetName := info.Path
	body := raw.Bytes()

	if filepath.Ext(info.Path) == ".blk" {
		kind := vrfs.SniffBlk(body)
		switch kind {
		case vrfs.BlkFATZst, vrfs.BlkSlimZst, vrfs.BlkSlimZstDict:
			dec, err := vro.DictDecoder()
			if err != nil {
				return err
			}
			defer dec.Close()
			decoded, err := dec.DecodeAll(body[1:], nil)
			if err != nil {
				return fmt.Errorf("%w: decoding %s: %w", ErrVrfstool, info.Path, err)
			}
			body = decoded
		case vrfs.BlkOther:
			targetName += ".raw"
		}
	}

	target := filepath.Join(u.outDir, filepath.FromSlash(targetName))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: creating directory for %s: %w", ErrVrfstool, targetName, err)
	}
	return os.WriteFile(target, body, 0o644)
}
