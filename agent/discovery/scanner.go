package discovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/skillflow/agent/skills"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	metadataFileName = "SKILL.yaml"
	readmeFileName   = "README.md"
	defaultVersion   = "1.0.0"
)

var (
	promptFileNames = []string{"SKILL.md", "PROMPT.md"}
	titlePattern    = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	slugStrip       = regexp.MustCompile(`[^\w\s-]`)
	slugDashes      = regexp.MustCompile(`[\s-]+`)
)

// ErrNoPromptFile is returned for a skill directory without SKILL.md or PROMPT.md.
var ErrNoPromptFile = errors.New("no SKILL.md or PROMPT.md file found")

// ScannerConfig configures directory scanning.
type ScannerConfig struct {
	// MaxFileBytes caps the size of any single file read.
	MaxFileBytes int64 `json:"max_file_bytes" yaml:"max_file_bytes"`

	// Concurrency bounds the number of skill directories parsed at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Validate rejects skills whose metadata fails validation.
	Validate bool `json:"validate" yaml:"validate"`
}

// DefaultScannerConfig returns a 2 MiB file cap, 8 workers and validation on.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		MaxFileBytes: 2 << 20,
		Concurrency:  8,
		Validate:     true,
	}
}

// ScanFailure records a directory that could not be turned into a skill.
type ScanFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ScanResult is the outcome of scanning a skills directory.
type ScanResult struct {
	Skills   []*skills.Skill `json:"skills"`
	Failures []ScanFailure   `json:"failures"`
}

// Scanner loads skill bundles from a directory tree.
type Scanner struct {
	config    ScannerConfig
	validator *skills.Validator
	logger    *zap.Logger
}

// NewScanner creates a scanner.
func NewScanner(config ScannerConfig, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = DefaultScannerConfig().MaxFileBytes
	}
	return &Scanner{
		config:    config,
		validator: skills.NewValidator(),
		logger:    logger.With(zap.String("component", "skill_scanner")),
	}
}

// Scan parses every immediate subdirectory of root that holds a prompt file
// or SKILL.yaml. Individual failures are collected, not returned as errors.
func (s *Scanner) Scan(ctx context.Context, root string) (*ScanResult, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read skills directory %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if isSkillDir(dir) {
			dirs = append(dirs, dir)
		}
	}

	parsed := make([]*skills.Skill, len(dirs))
	failures := make([]error, len(dirs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, dir := range dirs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			skill, err := s.ParseSkillDir(gctx, dir)
			if err != nil {
				failures[i] = err
				return nil
			}
			parsed[i] = skill
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	result := &ScanResult{
		Skills:   make([]*skills.Skill, 0, len(dirs)),
		Failures: []ScanFailure{},
	}
	for i, dir := range dirs {
		if failures[i] != nil {
			s.logger.Warn("skipping skill directory",
				zap.String("path", dir),
				zap.Error(failures[i]),
			)
			result.Failures = append(result.Failures, ScanFailure{Path: dir, Error: failures[i].Error()})
			continue
		}
		result.Skills = append(result.Skills, parsed[i])
	}

	s.logger.Info("skills scanned",
		zap.String("root", root),
		zap.Int("found", len(result.Skills)),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// ParseSkillDir loads a single skill directory. Metadata comes from SKILL.yaml
// when present and valid YAML, otherwise from the prompt file's frontmatter.
func (s *Scanner) ParseSkillDir(ctx context.Context, dir string) (*skills.Skill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	promptPath, raw, err := s.readPrompt(dir)
	if err != nil {
		return nil, err
	}

	frontmatter, body, hasFM, err := splitFrontmatter(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", promptPath, err)
	}
	if !hasFM {
		body = raw
	}

	meta, err := s.readMetadataFile(dir)
	if err != nil {
		s.logger.Debug("falling back to frontmatter metadata",
			zap.String("path", dir),
			zap.Error(err),
		)
	}
	if meta == nil {
		meta, err = metadataFromFrontmatter(frontmatter, raw, filepath.Base(dir))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", promptPath, err)
		}
	}
	if meta.Version == "" {
		meta.Version = defaultVersion
	}

	if s.config.Validate {
		if res := s.validator.ValidateMetadata(meta); !res.Valid {
			msgs := make([]string, len(res.Errors))
			for i, e := range res.Errors {
				msgs[i] = e.String()
			}
			return nil, fmt.Errorf("invalid skill metadata: %s", strings.Join(msgs, "; "))
		}
	}

	skill := &skills.Skill{
		Metadata:      *meta,
		PromptContent: strings.TrimLeft(body, "\r\n"),
		Path:          dir,
		LastModified:  latestModTime(dir),
		Status:        skills.StatusActive,
	}
	if readme, err := s.readLimited(filepath.Join(dir, readmeFileName)); err == nil {
		skill.ReadmeContent = readme
	}
	return skill, nil
}

func (s *Scanner) readPrompt(dir string) (string, string, error) {
	for _, name := range promptFileNames {
		path := filepath.Join(dir, name)
		content, err := s.readLimited(path)
		if err == nil {
			return path, content, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", err
		}
	}
	return "", "", ErrNoPromptFile
}

func (s *Scanner) readMetadataFile(dir string) (*skills.SkillMetadata, error) {
	content, err := s.readLimited(filepath.Join(dir, metadataFileName))
	if err != nil {
		return nil, err
	}
	var meta skills.SkillMetadata
	if err := yaml.Unmarshal([]byte(content), &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", metadataFileName, err)
	}
	if meta.Name == "" {
		return nil, fmt.Errorf("%s: missing required field: name", metadataFileName)
	}
	return &meta, nil
}

func (s *Scanner) readLimited(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.config.MaxFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > s.config.MaxFileBytes {
		return "", fmt.Errorf("%s too large (max %d bytes)", filepath.Base(path), s.config.MaxFileBytes)
	}
	return string(data), nil
}

func metadataFromFrontmatter(frontmatter, content, dirName string) (*skills.SkillMetadata, error) {
	var meta skills.SkillMetadata
	if frontmatter != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
			return nil, fmt.Errorf("invalid frontmatter YAML: %w", err)
		}
	}

	title := ""
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		title = strings.TrimSpace(m[1])
	}
	if meta.Name == "" {
		meta.Name = slugify(title)
	}
	if meta.Name == "" {
		meta.Name = slugify(dirName)
	}
	if meta.Description == "" {
		meta.Description = title
	}
	return &meta, nil
}

// splitFrontmatter separates a leading "---" delimited YAML block from the body.
func splitFrontmatter(s string) (frontmatter, body string, has bool, err error) {
	br := bufio.NewReader(strings.NewReader(s))

	first, ferr := br.ReadString('\n')
	if ferr != nil && !errors.Is(ferr, io.EOF) {
		return "", "", false, fmt.Errorf("read first line: %w", ferr)
	}
	if strings.TrimSpace(strings.TrimRight(first, "\r\n")) != "---" {
		return "", s, false, nil
	}

	var lines []string
	foundEnd := false
	for {
		line, lerr := br.ReadString('\n')
		if lerr != nil && !errors.Is(lerr, io.EOF) {
			return "", "", false, fmt.Errorf("read frontmatter line: %w", lerr)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(trimmed) == "---" {
			foundEnd = true
			break
		}
		lines = append(lines, trimmed)
		if errors.Is(lerr, io.EOF) {
			break
		}
	}
	if !foundEnd {
		return "", "", false, errors.New("unterminated frontmatter (missing closing ---)")
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return "", "", false, fmt.Errorf("read body: %w", err)
	}
	return strings.Join(lines, "\n"), string(rest), true, nil
}

func isSkillDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		switch e.Name() {
		case "SKILL.md", "PROMPT.md", metadataFileName:
			return true
		}
	}
	return false
}

func latestModTime(dir string) time.Time {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}
	}
	var times []time.Time
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !e.IsDir() {
			times = append(times, info.ModTime())
		}
	}
	if len(times) == 0 {
		return time.Time{}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
	return times[0].UTC()
}

func slugify(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = slugStrip.ReplaceAllString(text, "")
	text = slugDashes.ReplaceAllString(text, "-")
	return strings.Trim(text, "-")
}
