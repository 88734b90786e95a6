// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xfer-log stores and retrieves a log in a ring log region of an
// NVM image file.
//
// Usage:
//
//	$> xfer-log [OPTIONS] write|dump|info
//
// Example:
//
//	$> dmesg | xfer-log -img ./flash.img write
//	$> xfer-log -img ./flash.img info
//	$> xfer-log -img ./flash.img dump > dmesg.txt
package main // import "github.com/go-lpc/xfer/cmd/xfer-log"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/xfer/nvm"
	"github.com/go-lpc/xfer/ringlog"
)

func main() {
	var (
		img   = flag.String("img", "xfer-log.img", "path to the NVM image file")
		size  = flag.Int("size", 64*1024, "size of the NVM image (bytes)")
		page  = flag.Int("page", 2048, "page (erase) size of the NVM (bytes)")
		unit  = flag.Int("unit", 16, "program unit of the NVM (bytes)")
		start = flag.Int("start", 0, "start address of the ring log region")
		rsize = flag.Int("region", 0, "size of the ring log region (default: up to the end of the image)")
	)

	log.SetPrefix("xfer-log: ")
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: xfer-log [OPTIONS] write|dump|info\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing command")
	}

	geo := nvm.Geometry{Size: *size, PageSize: *page, ProgramUnit: *unit}
	err := run(flag.Arg(0), *img, geo, *start, *rsize, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatalf("could not run %q: %+v", flag.Arg(0), err)
	}
}

func run(cmd, fname string, geo nvm.Geometry, start, size int, r io.Reader, w io.Writer) error {
	dev, err := nvm.OpenFile(fname, geo)
	if err != nil {
		return err
	}
	defer dev.Close()

	if size <= 0 {
		size = geo.Size - start
	}

	buf, err := ringlog.New(dev, start, size, ringlog.WithLogger(log.Default()))
	if err != nil {
		return err
	}

	switch cmd {
	case "write":
		err = write(buf, r)
	case "dump":
		err = dump(buf, w)
	case "info":
		err = info(buf, w)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}

	return dev.Close()
}

func write(buf *ringlog.Buffer, r io.Reader) error {
	err := buf.Init()
	if err != nil {
		return fmt.Errorf("could not initialize ring log: %w", err)
	}

	n, err := io.Copy(buf, r)
	switch {
	case errors.Is(err, ringlog.ErrFull):
		log.Printf("ring log full: log truncated to %d bytes", n)
	case err != nil:
		return fmt.Errorf("could not write ring log: %w", err)
	}

	err = buf.Flush()
	if err != nil {
		return fmt.Errorf("could not flush ring log: %w", err)
	}
	return nil
}

func dump(buf *ringlog.Buffer, w io.Writer) error {
	err := buf.ReadInit()
	if err != nil {
		return fmt.Errorf("could not read ring log header: %w", err)
	}

	err = buf.Verify()
	if err != nil {
		return err
	}

	for {
		p, err := buf.Get(buf.Len())
		if err != nil {
			if errors.Is(err, ringlog.ErrExhausted) {
				return nil
			}
			return fmt.Errorf("could not read ring log: %w", err)
		}
		_, err = w.Write(p)
		if err != nil {
			return fmt.Errorf("could not dump ring log: %w", err)
		}
	}
}

func info(buf *ringlog.Buffer, w io.Writer) error {
	err := buf.ReadInit()
	switch {
	case errors.Is(err, ringlog.ErrNoHeader):
		fmt.Fprintf(w, "ring log: empty (capacity: %d bytes)\n", buf.Cap())
		return nil
	case err != nil:
		return fmt.Errorf("could not read ring log header: %w", err)
	}

	status := "ok"
	if err := buf.Verify(); err != nil {
		status = err.Error()
	}
	fmt.Fprintf(w, "ring log: %d/%d bytes, crc: %s\n", buf.Len(), buf.Cap(), status)
	return nil
}
