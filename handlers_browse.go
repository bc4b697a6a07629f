package main

import (
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
	"github.com/Kighlander1975/dbe-exercise-file-upload/pathsafe"
	"github.com/Kighlander1975/dbe-exercise-file-upload/scan"
	"github.com/Kighlander1975/dbe-exercise-file-upload/uploads"
)

const flashCookie = "flash"

// entryView is a listing row with the links the UI needs.
type entryView struct {
	scan.Entry
	HumanSize   string `json:"humanSize"`
	Modified    string `json:"modified"`
	FileURL     string `json:"fileUrl,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	PreviewURL  string `json:"previewUrl,omitempty"`
	Inline      bool   `json:"inline"`
	Image       bool   `json:"image"`
}

type diskView struct {
	Total       string  `json:"total"`
	Free        string  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

type flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type browseData struct {
	Path       string           `json:"path"`
	UploadRoot string           `json:"uploadRoot"`
	InUploads  bool             `json:"inUploads"`
	Tree       []*scan.Node     `json:"tree"`
	ActiveID   int              `json:"activeId,omitempty"`
	Breadcrumb []scan.Crumb     `json:"breadcrumb"`
	Entries    []entryView      `json:"entries"`
	Drives     []scan.Drive     `json:"drives"`
	Disk       *diskView        `json:"disk,omitempty"`
	Recent     []uploads.Record `json:"recent"`

	WriteMode  bool     `json:"writeMode"`
	AllowedExt []string `json:"allowedExt"`
	MaxUpload  string   `json:"maxUpload"`
	Flash      *flash   `json:"-"`
}

type previewData struct {
	Title string
	Name  string
	Body  template.HTML
}

var templateFuncs = template.FuncMap{
	"humanSize": scan.HumanSize,
	"join":      strings.Join,
	"fileURL": func(name string) string {
		return "/file?name=" + url.QueryEscape(name)
	},
	"browseURL": func(path string) string {
		return "/?path=" + url.QueryEscape(path)
	},
	"since": func(t time.Time) string {
		return t.Local().Format("2006-01-02 15:04")
	},
}

func safeHTML(b []byte) template.HTML {
	return template.HTML(b)
}

// browsePath turns the ?path= parameter into a canonical directory. An empty
// value means the upload root; relative values are taken below it.
func (s *server) browsePath(input string) (string, error) {
	if strings.ContainsRune(input, 0) {
		return "", fmt.Errorf("%w: NUL byte in path", apperr.ErrInvalidPath)
	}
	if input == "" {
		return s.guard.Root(), nil
	}

	path := input
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.guard.Root(), pathsafe.SanitizeRelative(path))
	}
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", apperr.ErrNotFound, input)
	}
	return path, nil
}

func (s *server) builder() *scan.Builder {
	b := scan.NewBuilder(s.hidden, s.treeCache)
	b.MaxDepth = s.cfg.Browse.MaxDepth
	return b
}

// browse collects everything the page shows for dir.
func (s *server) browse(c *fiber.Ctx, dir string) browseData {
	logger := logging.FromCtx(c)

	// every navigation starts from a fresh cache; /api/tree reuses what it left
	s.treeCache.Clear()
	tree := s.builder().NewTree(s.cfg.Browse.TreeRoot, dir)
	logger.Debug("tree built", zap.String("path", dir), zap.Int("nodes", tree.Len()))
	_, inUploads := s.uploadRelative(dir)
	inUploads = inUploads || dir == s.guard.Root()

	data := browseData{
		Path:       dir,
		UploadRoot: s.guard.Root(),
		InUploads:  inUploads,
		Tree:       tree.Roots,
		Breadcrumb: scan.Breadcrumb(dir, s.guard.Root()),
		Entries:    s.entryViews(scan.List(dir, s.hidden)),
		Drives:     scan.Drives(),
		WriteMode:  s.cfg.Server.WriteMode,
		AllowedExt: s.cfg.Upload.AllowedExt,
		MaxUpload:  scan.HumanSize(s.cfg.Upload.MaxBytes),
	}
	if active := tree.Active(); active != nil {
		data.ActiveID = active.ID
	}

	if usage, err := disk.Usage(dir); err == nil {
		data.Disk = &diskView{
			Total:       scan.HumanSize(int64(usage.Total)),
			Free:        scan.HumanSize(int64(usage.Free)),
			UsedPercent: usage.UsedPercent,
		}
	} else {
		logger.Debug("disk usage unavailable", zap.String("path", dir), zap.Error(err))
	}

	recent, err := s.uploads.Recent(s.cfg.Upload.RecentListSize)
	if err != nil {
		logger.Warn("failed to read upload history", zap.Error(err))
		recent = []uploads.Record{}
	}
	data.Recent = recent
	return data
}

func (s *server) entryViews(entries []scan.Entry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{
			Entry:     e,
			HumanSize: "-",
			Modified:  e.ModTime.Local().Format("2006-01-02 15:04"),
		}
		if !e.IsDir {
			v.HumanSize = scan.HumanSize(e.Size)
		}
		if rel, ok := s.servable(e); ok {
			q := url.QueryEscape(rel)
			v.FileURL = "/file?name=" + q
			v.DownloadURL = "/file?name=" + q + "&download=1"
			v.Inline = scan.IsInlineView(e.Ext)
			v.Image = isImageExt(e.Ext)
			if e.Ext == "md" || e.Ext == "markdown" {
				v.PreviewURL = "/preview?name=" + q
			}
		}
		views = append(views, v)
	}
	return views
}

// servable returns the /file name of e when /file would resolve it back to
// the same file.
func (s *server) servable(e scan.Entry) (string, bool) {
	if e.IsDir || e.IsSpecial {
		return "", false
	}
	rel, ok := s.uploadRelative(e.Path)
	if !ok || pathsafe.SanitizeRelative(rel) != filepath.FromSlash(rel) {
		return "", false
	}
	return rel, true
}

func isImageExt(ext string) bool {
	switch ext {
	case "jpg", "jpeg", "png", "gif", "webp", "svg", "tif", "tiff":
		return true
	}
	return false
}

// handleIndex renders the browse page.
func (s *server) handleIndex(c *fiber.Ctx) error {
	dir, err := s.browsePath(c.Query("path"))
	if err != nil {
		return err
	}

	data := s.browse(c, dir)
	data.Flash = popFlash(c)

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return s.tmpl.ExecuteTemplate(c.Response().BodyWriter(), "index.html.tmpl", data)
}

// handleBrowse is the JSON form of the browse page.
func (s *server) handleBrowse(c *fiber.Ctx) error {
	dir, err := s.browsePath(c.Query("path"))
	if err != nil {
		code := statusFor(err)
		return c.Status(code).JSON(fiber.Map{
			"status":  "error",
			"message": err.Error(),
		})
	}
	return c.JSON(s.browse(c, dir))
}

// handleTreeLevel returns one lazily loaded tree level:
// GET /api/tree?path=<dir>[&active=<dir>].
func (s *server) handleTreeLevel(c *fiber.Ctx) error {
	dir, err := s.browsePath(c.Query("path"))
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"status":  "error",
			"message": err.Error(),
		})
	}

	active := c.Query("active")
	if strings.ContainsRune(active, 0) {
		active = ""
	}

	nodes := s.builder().Build(dir, active, treeDepth(s.cfg.Browse.TreeRoot, dir))
	return c.JSON(fiber.Map{
		"path":  dir,
		"nodes": nodes,
	})
}

// treeDepth is the depth the children of dir have in a tree rooted at base.
func treeDepth(base, dir string) int {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(dir))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

func (s *server) handleRecentUploads(c *fiber.Ctx) error {
	n := c.QueryInt("limit", s.cfg.Upload.RecentListSize)
	recent, err := s.uploads.Recent(n)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"uploads": recent,
	})
}

func setFlash(c *fiber.Ctx, kind, message string) {
	c.Cookie(&fiber.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(kind + ":" + message),
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// popFlash reads and clears the one-shot message left by a redirect.
func popFlash(c *fiber.Ctx) *flash {
	raw := c.Cookies(flashCookie)
	if raw == "" {
		return nil
	}
	c.ClearCookie(flashCookie)

	value, err := url.QueryUnescape(raw)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(value, ":")
	if !ok {
		return nil
	}
	return &flash{Kind: kind, Message: message}
}
