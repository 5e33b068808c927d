// Package document renders sanction letters into downloadable HTML files.
//
// Letters are composed as Markdown and converted with goldmark, so the same
// source reads well both as a file on disk and in a browser.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/util"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Constants for document storage
const (
	// DefaultDirPermissions defines the default permissions for the documents directory
	DefaultDirPermissions = 0755
	// FilePrefix is the name prefix of every rendered letter
	FilePrefix = "sanction_letter_"
	// FileExtension is the extension of rendered letters
	FileExtension = ".html"
	// DownloadPath is the URL path under which documents are served
	DownloadPath = "/documents/"
)

var (
	ErrInvalidFilename  = errors.New("invalid document filename")
	ErrDocumentNotFound = errors.New("document not found")
)

// Opts holds configuration options for the HTML renderer.
type Opts struct {
	Dir        string // directory rendered letters are written to
	BaseURL    string // prefix for download URLs, e.g. "https://loans.example.com"
	LenderName string
}

// Option defines a configuration option for the HTML renderer.
type Option func(*Opts)

// WithDir sets the output directory.
func WithDir(dir string) Option {
	return func(o *Opts) { o.Dir = dir }
}

// WithBaseURL sets the public URL prefix used in download links.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithLenderName sets the lender printed on the letter.
func WithLenderName(name string) Option {
	return func(o *Opts) { o.LenderName = name }
}

// HTMLRenderer writes sanction letters as standalone HTML files.
type HTMLRenderer struct {
	dir        string
	baseURL    string
	lenderName string
	md         goldmark.Markdown
}

// NewHTMLRenderer creates the output directory if needed and returns a renderer.
func NewHTMLRenderer(opts ...Option) (*HTMLRenderer, error) {
	cfg := Opts{LenderName: "LoanPipe Finance"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("document directory not set")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	slog.Debug("HTMLRenderer created", "dir", cfg.Dir, "baseURL", cfg.BaseURL)

	return &HTMLRenderer{
		dir:        cfg.Dir,
		baseURL:    cfg.BaseURL,
		lenderName: cfg.LenderName,
		md:         goldmark.New(goldmark.WithExtensions(extension.Table)),
	}, nil
}

// Render writes the letter to disk and returns a handle to it.
func (r *HTMLRenderer) Render(ctx context.Context, letter models.SanctionLetter) (models.DocumentHandle, error) {
	if err := ctx.Err(); err != nil {
		return models.DocumentHandle{}, err
	}
	if letter.ApprovalID == "" {
		return models.DocumentHandle{}, fmt.Errorf("sanction letter has no approval id")
	}

	var body bytes.Buffer
	if err := r.md.Convert([]byte(r.markdown(letter)), &body); err != nil {
		slog.Error("HTMLRenderer.Render: markdown conversion failed", "approvalID", letter.ApprovalID, "error", err)
		return models.DocumentHandle{}, fmt.Errorf("failed to render sanction letter: %w", err)
	}

	filename := FilePrefix + letter.ApprovalID + FileExtension
	page := fmt.Sprintf(pageTemplate, letter.ApprovalID, body.String())
	if err := writeFileAtomic(filepath.Join(r.dir, filename), []byte(page)); err != nil {
		slog.Error("HTMLRenderer.Render: write failed", "filename", filename, "error", err)
		return models.DocumentHandle{}, err
	}

	handle := models.DocumentHandle{
		ID:       uuid.NewString(),
		Filename: filename,
		URL:      r.baseURL + DownloadPath + filename,
	}
	slog.Info("HTMLRenderer.Render: sanction letter written", "approvalID", letter.ApprovalID, "filename", filename)
	return handle, nil
}

// Open returns a rendered document for download. Only bare filenames with the
// letter prefix are accepted.
func (r *HTMLRenderer) Open(filename string) (*os.File, error) {
	if filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) ||
		!strings.HasPrefix(filename, FilePrefix) || !strings.HasSuffix(filename, FileExtension) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	f, err := os.Open(filepath.Join(r.dir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, filename)
	}
	return f, err
}

func (r *HTMLRenderer) markdown(l models.SanctionLetter) string {
	var b strings.Builder
	greetingName := "Sir/Madam"
	if fields := strings.Fields(l.ApplicantName); len(fields) > 0 && l.ApplicantName != "Valued Customer" {
		greetingName = fields[0]
	}

	fmt.Fprintf(&b, "# %s\n\n## Personal Loan Sanction Letter\n\n", r.lenderName)
	fmt.Fprintf(&b, "**Reference:** %s  \n**Date:** %s\n\n", l.ApprovalID, l.ApprovalDate)
	fmt.Fprintf(&b, "%s  \n%s  \nMobile: %s\n\n", l.ApplicantName, l.City, l.Phone)
	fmt.Fprintf(&b, "Dear %s,\n\n", greetingName)
	b.WriteString("**Subject: Approval of Personal Loan Application**\n\n")
	b.WriteString("We are pleased to inform you that your Personal Loan application has been **APPROVED**. ")
	b.WriteString("The loan is sanctioned subject to the terms and conditions mentioned below.\n\n")

	b.WriteString("### Loan Sanction Details\n\n| Particulars | Details |\n|---|---|\n")
	rows := [][2]string{
		{"Customer ID", l.CustomerID},
		{"Loan Amount", util.FormatRupees(l.LoanAmount)},
		{"Loan Purpose", l.Purpose},
		{"Tenure", fmt.Sprintf("%d months", l.TenureMonths)},
		{"Rate of Interest", l.InterestRate},
		{"Monthly EMI", util.FormatRupees(l.EMI)},
		{"Processing Fee", fmt.Sprintf("%s + %d%% GST = %s", util.FormatRupees(l.ProcessingFee), l.GSTPercent, util.FormatRupees(l.TotalFee))},
		{"Credit Score", fmt.Sprintf("%d", l.CreditScore)},
		{"Pre-approved Limit", util.FormatRupees(l.PreapprovedLimit)},
		{"Expected Disbursal", l.DisbursalDate},
		{"First EMI Due", l.FirstEMIDate},
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], escapeCell(row[1]))
	}

	b.WriteString("\n### Important Terms & Conditions\n\n")
	for i, term := range l.Terms {
		fmt.Fprintf(&b, "%d. %s\n", i+1, term)
	}

	fmt.Fprintf(&b, "\nFor **%s**\n\nAuthorized Signatory  \nBranch Manager\n", r.lenderName)
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sanction-*")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move document into place: %w", err)
	}
	return nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Sanction Letter %s</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; max-width: 760px; margin: 40px auto; color: #1f2933; }
table { border-collapse: collapse; width: 100%%; }
th, td { border: 1px solid #cbd2d9; padding: 6px 10px; text-align: left; }
th { background: #1e40af; color: #fff; }
</style>
</head>
<body>
%s
</body>
</html>
`
