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
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kotiq/vrfs"
)

func newPackCommand() *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "build a VROMFS image from a directory of files",
		ArgsUsage: "<dir> <out.vromfs>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:               "extended",
				Usage:              "reserve a digests_header (required for --checked)",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "checked",
				Usage:              "write a per-file SHA-1 table (implies --extended)",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "force",
				Usage:              "overwrite an existing output file",
				Aliases:            []string{"f"},
				DisableDefaultText: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("%w: pack takes a source directory and an output path", ErrFlagParse)
			}
			p := &packCmd{
				dir:      c.Args().Get(0),
				out:      c.Args().Get(1),
				extended: c.Bool("extended") || c.Bool("checked"),
				checked:  c.Bool("checked"),
				force:    c.Bool("force"),
			}
			return p.Run(c)
		},
	}
}

type packCmd struct {
	dir      string
	out      string
	extended bool
	checked  bool
	force    bool
}

func (p *packCmd) Run(c *cli.Context) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !p.force {
		flags |= os.O_EXCL
	}

	out, err := os.OpenFile(p.out, flags, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrVrfstool, p.out, err)
	}
	defer out.Close()

	if err := vrfs.PackVromfs(p.dir, out, p.extended, p.checked); err != nil {
		return fmt.Errorf("%w: packing %s: %w", ErrVrfstool, p.dir, err)
	}

	fmt.Fprintf(c.App.Writer, "%s\n", p.out)
	return nil
}
