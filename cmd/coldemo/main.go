package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cloudimpl/colattr/column"
	"github.com/cloudimpl/colattr/engine"
	"github.com/cloudimpl/colattr/pack"
)

func main() {
	var (
		dataDir = flag.String("data", "", "Path to the column's storage directory (required)")
		pss     = flag.Int("pss", 16, "Pack size shift: 1<<pss rows per pack")
		rows    = flag.Int("rows", 200000, "Number of rows to load")
	)
	flag.Parse()

	if *dataDir == "" {
		fmt.Println("Usage: coldemo -data <dir> [-pss 16] [-rows 200000]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	eng := engine.New()

	a, share, err := column.Create(eng, *dataDir, 1, 1, uint8(*pss), column.TypeInt, 0, 0, 0)
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	writer := eng.NextXID()
	a.Writer = &writer

	values := make([]int64, *rows)
	for i := range values {
		values[i] = int64(i)
	}
	// LoadData fills one pack per call, so feed it at most one pack's worth.
	capacity := a.Share.PackCapacity()
	for start := 0; start < len(values); start += capacity {
		end := start + capacity
		if end > len(values) {
			end = len(values)
		}
		if err := a.LoadData(&pack.Batch{Ints: values[start:end]}, false); err != nil {
			log.Fatalf("load: %v", err)
		}
	}
	fmt.Printf("loaded %d rows into %d packs\n", a.Hdr.NR, a.Hdr.NP)

	if err := a.UpdateData(0, pack.Value{Int: -1}, nil); err != nil {
		log.Fatalf("update: %v", err)
	}

	if _, err := a.SaveVersion(); err != nil {
		log.Fatalf("save version: %v", err)
	}
	version := *a.Writer
	if err := a.PostCommit(); err != nil {
		log.Fatalf("post-commit: %v", err)
	}
	fmt.Printf("committed version %s\n", version.String())

	reader, err := column.Open(eng, share, *dataDir, 1, 1, version, nil)
	if err != nil {
		log.Fatalf("open reader: %v", err)
	}
	v, err := reader.GetValueInt64(0)
	if err != nil {
		log.Fatalf("get value: %v", err)
	}
	fmt.Printf("row 0 after update = %d\n", v)
}
