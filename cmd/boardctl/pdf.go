package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/classboard/internal/export"
)

const (
	FlagOutput = "output"
	FlagTitle  = "title"
)

// GetPDFCmd returns the snapshot to PDF conversion command. Each argument is a
// PNG file path or an http(s) snapshot URL.
func GetPDFCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdf [png file or snapshot url]...",
		Short: "Convert whiteboard snapshots into a PDF handout",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			output, err := cmd.Flags().GetString(FlagOutput)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagOutput, err)
			}
			title, err := cmd.Flags().GetString(FlagTitle)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagTitle, err)
			}

			pages := make([]export.Page, 0, len(args))
			for _, src := range args {
				data, err := readSnapshot(src)
				if err != nil {
					log.Fatalf("read %s: %v", src, err)
				}
				pages = append(pages, export.Page{Caption: filepath.Base(src), PNG: data})
			}

			f, err := os.Create(output)
			if err != nil {
				log.Fatalf("create %s: %v", output, err)
			}
			defer f.Close()
			if err := export.WritePDF(f, title, pages...); err != nil {
				log.Fatalf("export: %v", err)
			}
			log.Printf("📄 Wrote %d pages to %s", len(pages), output)
		},
	}
	cmd.Flags().String(FlagOutput, "whiteboard.pdf", "(optional) output file")
	cmd.Flags().String(FlagTitle, "Whiteboard", "(optional) document title")

	return cmd
}

func readSnapshot(src string) ([]byte, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.ReadFile(src)
	}
	resp, err := http.Get(src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func init() {
	rootCmd.AddCommand(GetPDFCmd())
}
