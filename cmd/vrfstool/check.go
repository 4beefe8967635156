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

func newCheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "verify the container's MD5 digest and the directory's per-file SHA-1 digests",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("%w: check takes exactly one path argument", ErrFlagParse)
			}
			return (&checkCmd{path: c.Args().First()}).Run(c)
		},
	}
}

type checkCmd struct {
	path string
}

func (k *checkCmd) Run(c *cli.Context) error {
	bin, err := vrfs.OpenBin(k.path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrVrfstool, k.path, err)
	}
	defer bin.Close()

	if err := bin.CheckErr(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrVrfstool, k.path, err)
	}

	vro, err := vrfs.OpenVromfs(bin)
	if err != nil {
		// Not every BIN container wraps a VROMFS image; in that case the
		// MD5 check above (skipped for a container without a digest) is
		// the only check made.
		_, err := fmt.Fprintf(c.App.Writer, "%s: ok\n", k.path)
		return err
	}
	defer vro.Close()

	if err := vro.CheckErr(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrVrfstool, k.path, err)
	}

	_, err = fmt.Fprintf(c.App.Writer, "%s: ok\n", k.path)
	return err
}
