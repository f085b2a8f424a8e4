package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"

	"boundq/internal/runner"
)

// TemplateEngine handles parsing and executing request templates
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is passed to the execution context
type TemplateData struct {
	Seq    int
	ID     string
	UserID string
	ChatID string
}

// NewTemplateData derives the per-attempt values. UserID cycles over 1000 users.
func NewTemplateData(a runner.Attempt) TemplateData {
	return TemplateData{
		Seq:    a.Seq,
		ID:     a.ID,
		UserID: fmt.Sprintf("load_test_user_%d", a.Seq%1000),
		ChatID: fmt.Sprintf("load_test_chat_%d", a.Seq),
	}
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
	}

	return e
}

// Preprocess converts shorthand variables like {{uuid}} to field access {{.ID}}
func (e *TemplateEngine) Preprocess(input string) string {
	r := strings.NewReplacer(
		"{{uuid}}", "{{.ID}}",
		"{{requestID}}", "{{.ID}}",
		"{{seq}}", "{{.Seq}}",
		"{{userID}}", "{{.UserID}}",
		"{{chatID}}", "{{.ChatID}}",
	)
	return r.Replace(input)
}

// Parse creates a new template with the engine's functions
func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(e.funcMap).Parse(e.Preprocess(text))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- Functions ---

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.Intn(max-min) + min
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.New().String()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.Intn(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()

	if !ok {
		var err error
		if lines, err = e.loadLines(filename); err != nil {
			return "", err
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.Intn(len(lines))], nil
}

func (e *TemplateEngine) loadLines(filename string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if lines, ok := e.fileCache[filename]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s': %w", filename, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	var loaded []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			loaded = append(loaded, line)
		}
	}

	e.fileCache[filename] = loaded
	return loaded, nil
}
