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
	"encoding/hex"
	"fmt"

	"github.com/rodaine/table"
	"github.com/urfave/cli/v2"

	"github.com/kotiq/vrfs"
)

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "print the VROMFS name list in offset order",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("%w: list takes exactly one path argument", ErrFlagParse)
			}
			return (&listCmd{path: c.Args().First()}).Run(c)
		},
	}
}

type listCmd struct {
	path string
}

func (l *listCmd) Run(c *cli.Context) error {
	bin, err := vrfs.OpenBin(l.path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrVrfstool, l.path, err)
	}
	defer bin.Close()

	vro, err := vrfs.OpenVromfs(bin)
	if err != nil {
		return fmt.Errorf("%w: reading directory: %w", ErrVrfstool, err)
	}
	defer vro.Close()

	tbl := table.New("name", "offset", "size", "digest")
	for _, info := range vro.InfoList() {
		digest := "-"
		if info.Digest != nil {
			digest = hex.EncodeToString(info.Digest)
		}
		tbl.AddRow(info.Path, info.Offset, info.Size, digest)
	}
	tbl.Print()

	return nil
}
