package cmd

import (
	"go/format"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const licenseHeader = "/*\n * === This file is part of Polaris ===\n *\n * Copyright 2026 the Polaris authors.\n"

func goSources(root string) []string {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	Expect(err).NotTo(HaveOccurred())
	return files
}

var _ = Describe("source tree", func() {
	var files []string

	BeforeEach(func() {
		files = goSources(filepath.Join("..", ".."))
		Expect(files).NotTo(BeEmpty())
	})

	It("is gofmt clean", func() {
		for _, path := range files {
			src, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			formatted, err := format.Source(src)
			Expect(err).NotTo(HaveOccurred(), path)
			Expect(string(formatted)).To(Equal(string(src)), path)
		}
	})

	It("carries the project license header on every non-test file", func() {
		for _, path := range files {
			if strings.HasSuffix(path, "_test.go") {
				continue
			}
			src, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(src)).To(HavePrefix(licenseHeader), path)
			Expect(string(src)).NotTo(ContainSubstring("*/\n\n\n"), path)
		}
	})
})
