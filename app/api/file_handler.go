package api

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"resumerag/types"
)

var allowedExtensions = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// Indexer manages the indexed documents.
type Indexer interface {
	IndexFile(ctx context.Context, path string) (types.Document, error)
	Delete(ctx context.Context, filename string) (bool, error)
	List(ctx context.Context) ([]types.Document, error)
}

type FileHandler struct {
	indexer   Indexer
	uploadDir string
}

func NewFileHandler(indexer Indexer, uploadDir string) *FileHandler {
	return &FileHandler{
		indexer:   indexer,
		uploadDir: uploadDir,
	}
}

// HandleUpload saves the multipart "file" into the upload folder and
// indexes it.
func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return ErrMissingFile()
	}

	filename := filepath.Base(file.Filename)
	if filename == "." || filename == string(filepath.Separator) || strings.HasPrefix(filename, ".") {
		return ErrMissingFile()
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return ErrUnsupportedFile(ext)
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.uploadDir, filename)
	if err := c.SaveFile(file, path); err != nil {
		return err
	}
	log.Printf("[UPLOAD] file successfully saved to: %s", path)

	doc, err := h.indexer.IndexFile(c.UserContext(), path)
	if err != nil {
		var extErr *types.ExtractionError
		if errors.As(err, &extErr) {
			_ = os.Remove(path)
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (h *FileHandler) HandleList(c *fiber.Ctx) error {
	docs, err := h.indexer.List(c.UserContext())
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []types.Document{}
	}
	return c.JSON(fiber.Map{"documents": docs})
}

// HandleDelete removes a document from the index and the upload folder.
func (h *FileHandler) HandleDelete(c *fiber.Ctx) error {
	filename := filepath.Base(c.Params("filename"))

	deleted, err := h.indexer.Delete(c.UserContext(), filename)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound(filename, "document")
	}

	if err := os.Remove(filepath.Join(h.uploadDir, filename)); err != nil && !os.IsNotExist(err) {
		log.Printf("[UPLOAD] could not remove %s: %v", filename, err)
	}
	return c.JSON(fiber.Map{"deleted": filename})
}
