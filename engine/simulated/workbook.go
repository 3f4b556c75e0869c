package simulated

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tealeg/xlsx/v3"
)

const bindingSheet = "Parameters"

// WriteDocument creates a source workbook that defines the given names, each
// pointing at its own cell on a parameters sheet.
func WriteDocument(path string, names ...string) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(bindingSheet)
	if err != nil {
		return err
	}
	for _, name := range names {
		row := sheet.AddRow()
		row.AddCell().SetString(name)
		row.AddCell().SetString("")
	}
	if err := file.Save(path); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return injectDefinedNames(path, names)
}

// ReadDefinedNames lists the workbook-level names of the document at path.
func ReadDefinedNames(path string) ([]string, error) {
	file, err := xlsx.OpenFile(path, xlsx.RowLimit(1))
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", path, err)
	}
	names := make([]string, 0, len(file.DefinedNames))
	for _, dn := range file.DefinedNames {
		names = append(names, dn.Name)
	}
	return names, nil
}

// WriteWorkbook writes the xlsx output of one simulated report.
func WriteWorkbook(path, year, week string) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Bericht")
	if err != nil {
		return err
	}
	header := sheet.AddRow()
	header.AddCell().SetString("Year")
	header.AddCell().SetString("Week")
	values := sheet.AddRow()
	values.AddCell().SetString(year)
	values.AddCell().SetString(week)
	return file.Save(path)
}

// injectDefinedNames rewrites xl/workbook.xml with a definedNames block.
func injectDefinedNames(path string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	var block strings.Builder
	block.WriteString("<definedNames>")
	for i, name := range names {
		fmt.Fprintf(&block, `<definedName name="%s">%s!$B$%d</definedName>`, name, bindingSheet, i+1)
	}
	block.WriteString("</definedNames>")

	src, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	dst := zip.NewWriter(&buf)
	for _, f := range src.File {
		rc, err := f.Open()
		if err != nil {
			src.Close()
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			src.Close()
			return err
		}
		if f.Name == "xl/workbook.xml" {
			data = withDefinedNames(data, block.String())
		}
		w, err := dst.Create(f.Name)
		if err != nil {
			src.Close()
			return err
		}
		if _, err := w.Write(data); err != nil {
			src.Close()
			return err
		}
	}
	src.Close()
	if err := dst.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func withDefinedNames(workbook []byte, block string) []byte {
	s := string(workbook)
	for _, empty := range []string{"<definedNames></definedNames>", "<definedNames/>"} {
		if strings.Contains(s, empty) {
			return []byte(strings.Replace(s, empty, block, 1))
		}
	}
	return []byte(strings.Replace(s, "</sheets>", "</sheets>"+block, 1))
}
