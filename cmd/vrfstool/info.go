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

	"github.com/urfave/cli/v2"

	"github.com/kotiq/vrfs"
)

func newInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print BIN/VROMFS metadata",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("%w: info takes exactly one path argument", ErrFlagParse)
			}
			return (&infoCmd{path: c.Args().First()}).Run(c)
		},
	}
}

type infoCmd struct {
	path string
}

func (i *infoCmd) Run(c *cli.Context) error {
	bin, err := vrfs.OpenBin(i.path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrVrfstool, i.path, err)
	}
	defer bin.Close()

	fmt.Fprintf(c.App.Writer, "path:       %s\n", i.path)
	fmt.Fprintf(c.App.Writer, "platform:   %s\n", bin.Platform())
	fmt.Fprintf(c.App.Writer, "size:       %d\n", bin.Size())
	fmt.Fprintf(c.App.Writer, "pack type:  %s\n", bin.PackType())
	fmt.Fprintf(c.App.Writer, "compressed: %v\n", bin.Compressed())
	fmt.Fprintf(c.App.Writer, "checked:    %v\n", bin.Checked())
	if v := bin.Version(); v != nil {
		fmt.Fprintf(c.App.Writer, "version:    %d.%d.%d.%d\n", v[0], v[1], v[2], v[3])
	}

	vro, err := vrfs.OpenVromfs(bin)
	if err != nil {
		// Not every BIN container wraps a VROMFS image; report the BIN
		// metadata above and stop there.
		return nil
	}
	defer vro.Close()

	fmt.Fprintf(c.App.Writer, "extended:   %v\n", vro.Extended())
	fmt.Fprintf(c.App.Writer, "vro checked: %v\n", vro.Checked())
	fmt.Fprintf(c.App.Writer, "entries:    %d\n", len(vro.InfoList()))

	return nil
}
