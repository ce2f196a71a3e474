package testutil

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
)

// CSV fixtures shared by package tests
const (
	// MonthlySalesCSV is a clean numeric table with a text x-axis
	MonthlySalesCSV = "month,revenue,units\n" +
		"Jan,100,10\n" +
		"Feb,150,12\n" +
		"Mar,200,20\n" +
		"Apr,120,11\n"

	// MissingValuesCSV has one blank cell in a numeric column
	MissingValuesCSV = "id,score\n" +
		"1,10\n" +
		"2,\n" +
		"3,30\n"

	// MixedTypesCSV mixes text, numbers and a boolean column
	MixedTypesCSV = "name,age,active\n" +
		"alice,31,true\n" +
		"bob,45,false\n" +
		"carol,27,true\n"
)

// WriteCSV writes content to name inside a test temp dir and returns the path
func WriteCSV(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// MultipartUpload builds a multipart body with content under the "file"
// field plus the given form fields. It returns the body and content type.
func MultipartUpload(t testing.TB, filename, content string, fields map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, values := range fields {
		for _, v := range values {
			if err := mw.WriteField(k, v); err != nil {
				t.Fatalf("write field %s: %v", k, err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// NumberedCSV returns a two column table with n rows of increasing values
func NumberedCSV(n int) string {
	var b bytes.Buffer
	b.WriteString("idx,value\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, i*i)
	}
	return b.String()
}
