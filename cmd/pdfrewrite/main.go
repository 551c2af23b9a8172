package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cadanapay/pdfstruct"
)

func main() {
	configFile := flag.String("config", "", "YAML config file")
	stats := flag.Bool("stats", false, "print element statistics")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Printf("Usage: %s [options] input.pdf output.pdf\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := pdfstruct.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = pdfstruct.LoadConfig(*configFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	logger := log.New(os.Stderr, "pdfrewrite: ", 0)
	st, err := pdfstruct.RewriteFile(flag.Arg(0), flag.Arg(1), cfg, pdfstruct.WithLogger(logger))
	if err != nil {
		logger.Fatal(err)
	}
	if *stats {
		fmt.Print(st.String())
	}
}
