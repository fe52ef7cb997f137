// jrnldump prints the contents of a journal file pair.
package main

import (
	"flag"
	"fmt"
	"os"

	"jrnldb/internal/config"
	"jrnldb/internal/journal"
	"jrnldb/pkg/compression"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	dbPath := flag.String("path", "", "database path override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jrnldump: %v\n", err)
		os.Exit(1)
	}
	config.SetupLogger(&cfg)
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	compressor, err := compression.New(cfg.Journal.Compressor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jrnldump: %v\n", err)
		os.Exit(1)
	}

	j := journal.New(journal.Options{
		Stem:       cfg.JournalStem(),
		Compressor: compressor,
		PageSize:   cfg.Storage.PageSizeBytes,
	})
	if err := j.Open(); err != nil {
		fmt.Fprintf(os.Stderr, "jrnldump: %v\n", err)
		os.Exit(1)
	}
	defer j.Close(true)

	for idx := 0; idx < 2; idx++ {
		fmt.Printf("=== %s\n", j.Path(idx))
		err := j.Entries(idx, func(offset uint64, e journal.Entry) bool {
			dump(offset, e)
			return true
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "jrnldump: %v\n", err)
			os.Exit(1)
		}
	}
}

func dump(offset uint64, e journal.Entry) {
	fmt.Printf("%8d  lsn=%-6d txn=%-4d db=%-3d %-10s", offset, e.LSN, e.TxnID, e.DBName, e.Kind)

	switch e.Kind {
	case journal.KindTxnBegin:
		if name := e.TxnName(); name != "" {
			fmt.Printf(" name=%q", name)
		}
	case journal.KindInsert:
		if p, err := journal.DecodeInsert(e.Payload); err == nil {
			fmt.Printf(" key=%d record=%d", p.KeySize, p.RecordSize)
			if p.CompressedKeySize != 0 || p.CompressedRecordSize != 0 {
				fmt.Printf(" (stored %d+%d)", len(p.Key), len(p.Record))
			}
			fmt.Printf(" flags=%#x", p.Flags)
		}
	case journal.KindErase:
		if p, err := journal.DecodeErase(e.Payload); err == nil {
			fmt.Printf(" key=%d flags=%#x dup=%d", p.KeySize, p.Flags, p.DupIndex)
		}
	case journal.KindChangeset:
		if h, err := journal.DecodeChangesetHeader(e.Payload); err == nil {
			fmt.Printf(" pages=%d last_blob_page=%d", h.NumPages, h.LastBlobPage)
		}
	}
	fmt.Println()
}
