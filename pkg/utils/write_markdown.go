package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyike/stockbot/internal/logger"
)

func WriteMarkdown(dir, fileName, content string) (string, error) {
	return writeFile(dir, fileName, []byte(content))
}

// WriteJSON writes v indented with two spaces.
func WriteJSON(dir, fileName string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", fileName, err)
	}
	return writeFile(dir, fileName, data)
}

func writeFile(dir, fileName string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", path, err)
	}
	logger.Debug("written", logger.String("path", path))
	return path, nil
}
