package stages

import (
	"bytes"
	"embed"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).ParseFS(templateFS, "templates/*.tmpl"))

func xmlEscape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

// render executes the named template.
func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// static returns an embedded file that needs no substitution.
func static(name string) []byte {
	b, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		panic(fmt.Sprintf("embedded template %s: %v", name, err))
	}
	return b
}

type userAccount struct {
	FullName      string
	ShortName     string
	Password      string
	AutoLogin     bool
	SkipMiniBuddy bool
}

type authorizedKey struct {
	Home string
	Key  string
}

type vmxSettings struct {
	Name       string
	HWVersion  int
	GuestOS    string
	CPUs       int
	MemoryMB   int
	HiDPI      bool
	Fullscreen bool
}

type vagrantSettings struct {
	Provider   string
	GUI        bool
	Fullscreen bool
	MemoryMB   int
	CPUs       int
}
