//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ui"
)

type arrayCmd struct {
	Create  arrayCreateCmd  `command:"create" description:"create an array object"`
	Info    arrayInfoCmd    `command:"info" description:"show the cell and chunk sizes of an array"`
	Write   arrayWriteCmd   `command:"write" description:"write cells to an array"`
	Read    arrayReadCmd    `command:"read" description:"read cells from an array"`
	Size    arraySizeCmd    `command:"size" description:"show the size of an array in cells"`
	SetSize arraySetSizeCmd `command:"set-size" alias:"truncate" description:"extend or shrink an array"`
	Punch   arrayPunchCmd   `command:"punch" description:"punch a range of cells"`
	Destroy arrayDestroyCmd `command:"destroy" description:"destroy an array object"`
}

type arrayBaseCmd struct {
	objBaseCmd
}

// openArray opens the container and the array in it, and returns a
// function which closes both. Byte arrays carry no metadata and open with
// a one-byte cell and the default chunk size.
func (cmd *arrayBaseCmd) openArray(ctx context.Context, mode api.ObjectOpenMode) (*api.ArrayHandle, func(), error) {
	contFlags := daos.ContainerOpenFlagReadOnly
	if mode.Writable() {
		contFlags = daos.ContainerOpenFlagReadWrite
	}
	ch, cleanup, err := cmd.open(ctx, contFlags)
	if err != nil {
		return nil, nil, err
	}

	var ah *api.ArrayHandle
	if cmd.OID.Type() == daos.ObjectTypeArrayByte {
		ah, err = ch.OpenArrayWithAttr(ctx, cmd.OID.ObjectID, mode, 1, daos.DefaultChunkSize)
	} else {
		ah, err = ch.OpenArray(ctx, cmd.OID.ObjectID, nil, mode)
	}
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrapf(err, "failed to open array %s", cmd.OID)
	}

	return ah, func() {
		if err := ah.Close(ctx); err != nil {
			cmd.Errorf("failed to close array %s: %s", cmd.OID, err)
		}
		cleanup()
	}, nil
}

func (cmd *arrayBaseCmd) done() error {
	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type arrayCreateCmd struct {
	arrayBaseCmd
	CellSize  uint64 `long:"cell-size" short:"s" default:"1" description:"size of an array cell in bytes"`
	ChunkSize uint64 `long:"chunk-size" short:"z" description:"number of cells per chunk (default 1048576)"`
}

// Execute is run when arrayCreateCmd subcommand is activated.
func (cmd *arrayCreateCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	ah, err := ch.CreateArray(ctx, cmd.OID.ObjectID, nil, cmd.CellSize, cmd.ChunkSize)
	if err != nil {
		return errors.Wrapf(err, "failed to create array %s", cmd.OID)
	}
	if err := ah.Close(ctx); err != nil {
		return err
	}
	cmd.Infof("created array %s", cmd.OID)

	return cmd.done()
}

type arrayInfoCmd struct {
	arrayBaseCmd
}

// Execute is run when arrayInfoCmd subcommand is activated.
func (cmd *arrayInfoCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ah, cleanup, err := cmd.openArray(ctx, api.ObjectOpenModeReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	cellSize, chunkSize := ah.Info()
	return cmd.printOrJSON(struct {
		CellSize  uint64 `json:"cell_size"`
		ChunkSize uint64 `json:"chunk_size"`
	}{cellSize, chunkSize}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "cell size: %d\nchunk size: %d\n", cellSize, chunkSize)
		return err
	})
}

type arrayWriteCmd struct {
	arrayBaseCmd
	Index uint64 `long:"index" short:"x" description:"index of the first cell to write"`
	Data  string `long:"data" short:"d" required:"1" description:"bytes to write (a multiple of the cell size)"`
}

// Execute is run when arrayWriteCmd subcommand is activated.
func (cmd *arrayWriteCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ah, cleanup, err := cmd.openArray(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	cellSize, _ := ah.Info()
	if uint64(len(cmd.Data))%cellSize != 0 {
		return errors.Errorf("%d bytes of data is not a multiple of the %d byte cell size", len(cmd.Data), cellSize)
	}

	iod := api.ArrayIOD{Ranges: []api.ArrayRange{{Idx: cmd.Index, Len: uint64(len(cmd.Data)) / cellSize}}}
	if err := ah.Write(ctx, nil, iod, []byte(cmd.Data)); err != nil {
		return errors.Wrapf(err, "failed to write array %s", cmd.OID)
	}

	return cmd.done()
}

type arrayReadCmd struct {
	arrayBaseCmd
	Index uint64       `long:"index" short:"x" description:"index of the first cell to read"`
	Count uint64       `long:"count" short:"n" required:"1" description:"number of cells to read"`
	Epoch ui.EpochFlag `long:"epc" short:"e" description:"read from this snapshot epoch"`
}

// Execute is run when arrayReadCmd subcommand is activated.
func (cmd *arrayReadCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ch, cleanup, err := cmd.open(ctx, daos.ContainerOpenFlagReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	tx, closeTx, err := cmd.snapTx(ctx, ch, cmd.Epoch.Epoch)
	if err != nil {
		return err
	}
	defer closeTx()

	var ah *api.ArrayHandle
	if cmd.OID.Type() == daos.ObjectTypeArrayByte {
		ah, err = ch.OpenArrayWithAttr(ctx, cmd.OID.ObjectID, api.ObjectOpenModeReadOnly, 1, daos.DefaultChunkSize)
	} else {
		ah, err = ch.OpenArray(ctx, cmd.OID.ObjectID, tx, api.ObjectOpenModeReadOnly)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to open array %s", cmd.OID)
	}
	defer func() {
		if err := ah.Close(ctx); err != nil {
			cmd.Errorf("failed to close array %s: %s", cmd.OID, err)
		}
	}()

	cellSize, _ := ah.Info()
	buf := make([]byte, cmd.Count*cellSize)
	iod := api.ArrayIOD{Ranges: []api.ArrayRange{{Idx: cmd.Index, Len: cmd.Count}}}
	if err := ah.Read(ctx, tx, iod, buf); err != nil {
		return errors.Wrapf(err, "failed to read array %s", cmd.OID)
	}

	return cmd.printOrJSON(string(buf), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\n", buf)
		return err
	})
}

type arraySizeCmd struct {
	arrayBaseCmd
}

// Execute is run when arraySizeCmd subcommand is activated.
func (cmd *arraySizeCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ah, cleanup, err := cmd.openArray(ctx, api.ObjectOpenModeReadOnly)
	if err != nil {
		return err
	}
	defer cleanup()

	size, err := ah.GetSize(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to get size of array %s", cmd.OID)
	}

	return cmd.printOrJSON(size, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, size)
		return err
	})
}

type arraySetSizeCmd struct {
	arrayBaseCmd
	Size uint64 `long:"size" short:"n" required:"1" description:"new size in cells"`
}

// Execute is run when arraySetSizeCmd subcommand is activated.
func (cmd *arraySetSizeCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ah, cleanup, err := cmd.openArray(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ah.SetSize(ctx, nil, cmd.Size); err != nil {
		return errors.Wrapf(err, "failed to set size of array %s", cmd.OID)
	}

	return cmd.done()
}

type arrayPunchCmd struct {
	arrayBaseCmd
	Index uint64 `long:"index" short:"x" description:"index of the first cell to punch"`
	Count uint64 `long:"count" short:"n" required:"1" description:"number of cells to punch"`
}

// Execute is run when arrayPunchCmd subcommand is activated.
func (cmd *arrayPunchCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ah, cleanup, err := cmd.openArray(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	iod := api.ArrayIOD{Ranges: []api.ArrayRange{{Idx: cmd.Index, Len: cmd.Count}}}
	if err := ah.Punch(ctx, nil, iod); err != nil {
		return errors.Wrapf(err, "failed to punch array %s", cmd.OID)
	}

	return cmd.done()
}

type arrayDestroyCmd struct {
	arrayBaseCmd
}

// Execute is run when arrayDestroyCmd subcommand is activated.
func (cmd *arrayDestroyCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	ah, cleanup, err := cmd.openArray(ctx, api.ObjectOpenModeReadWrite)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ah.Destroy(ctx, nil); err != nil {
		return errors.Wrapf(err, "failed to destroy array %s", cmd.OID)
	}

	return cmd.done()
}
