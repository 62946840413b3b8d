package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"jw-notices/pkg/config"
	"jw-notices/pkg/models"
	"jw-notices/pkg/process"
	"jw-notices/pkg/utils"
)

const noticeFilesDir = "notices" // Subdirectory of the output dir for per-notice Markdown/HTML files

// OutputManager owns all output files of one run: notices.json, details.jsonl, chunks.jsonl,
// per-notice Markdown/HTML files and metadata.yaml.
type OutputManager struct {
	log    *logrus.Entry
	cfg    config.OutputConfig
	portal config.PortalConfig

	// JSONL output
	detailsFile     *os.File
	detailsFileMu   sync.Mutex
	detailsFilePath string

	// Chunks output
	chunksFile     *os.File
	chunksFileMu   sync.Mutex
	chunksFilePath string

	// YAML metadata
	runMeta         models.CrawlMetadata
	collectedNotice []models.NoticeFileMeta
	detailsSaved    int
	metadataMutex   sync.Mutex
	opened          bool
}

// NewOutputManager creates an OutputManager without touching the filesystem
func NewOutputManager(cfg config.OutputConfig, portal config.PortalConfig, log *logrus.Entry) *OutputManager {
	return &OutputManager{
		log:    log.WithField("component", "output"),
		cfg:    cfg,
		portal: portal,
	}
}

// Dir returns the output directory
func (om *OutputManager) Dir() string {
	return om.cfg.Dir
}

// Open creates the output directory and opens the append-only JSONL files.
// A JSONL file that cannot be opened is logged and disabled for the run.
func (om *OutputManager) Open(runID string, start time.Time, since string) error {
	if err := os.MkdirAll(filepath.Join(om.cfg.Dir, noticeFilesDir), 0755); err != nil {
		return fmt.Errorf("%w: create output directory %s: %w", utils.ErrFilesystem, om.cfg.Dir, err)
	}

	om.runMeta = models.CrawlMetadata{
		RunID:     runID,
		Portal:    om.portal.BaseURL,
		StartTime: start,
		Since:     since,
	}

	if config.Enabled(om.cfg.WriteDetailsJSONL) {
		om.detailsFilePath = filepath.Join(om.cfg.Dir, om.cfg.DetailsJSONLFilename)
		om.detailsFile = openAppendFile(om.log, om.detailsFilePath, "details JSONL")
	}
	if om.cfg.Chunking.Enabled {
		om.chunksFilePath = filepath.Join(om.cfg.Dir, om.cfg.ChunksFilename)
		om.chunksFile = openAppendFile(om.log, om.chunksFilePath, "chunks")
	}
	om.opened = true
	return nil
}

// openAppendFile returns nil on error (caller treats nil as "output disabled")
func openAppendFile(log *logrus.Entry, path, label string) *os.File {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Errorf("Failed to open %s file '%s': %v. %s output will be disabled.", label, path, err, label)
		return nil
	}
	log.Debugf("Appending %s output to %s", label, path)
	return file
}

// WriteNotices writes the listed notices as an indented JSON array, replacing any previous file
func (om *OutputManager) WriteNotices(notices []models.NoticeMetadata) error {
	om.metadataMutex.Lock()
	om.runMeta.NoticesListed = len(notices)
	om.metadataMutex.Unlock()

	if !config.Enabled(om.cfg.WriteNoticesJSON) {
		return nil
	}
	if notices == nil {
		notices = []models.NoticeMetadata{}
	}

	data, err := json.MarshalIndent(notices, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: JSON encode notices: %w", utils.ErrParsing, err)
	}
	if err := os.MkdirAll(om.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("%w: create output directory %s: %w", utils.ErrFilesystem, om.cfg.Dir, err)
	}
	path := filepath.Join(om.cfg.Dir, om.cfg.NoticesJSONFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, path, err)
	}
	om.log.Infof("Wrote %d notices to %s", len(notices), path)
	return nil
}

// RecordDetail writes every enabled per-detail output for one fetched notice and returns the
// path of its Markdown file (empty when Markdown output is off).
func (om *OutputManager) RecordDetail(detail *models.NoticeDetail, contentHash string, fetchedAt time.Time) (string, error) {
	meta := detail.Metadata
	taskLog := om.log.WithField("notice_id", meta.ID)
	fetchedAtStr := fetchedAt.UTC().Format(time.RFC3339)

	body := markdownBody(detail, taskLog)
	markdown := appendAttachments(body, detail.Attachments)
	headings := process.ExtractHeadings([]byte(body))
	tokenCount := process.CountTokens(detail.Content)

	baseName := utils.SanitizeFilename(meta.ID) + "_" + utils.SanitizeFilename(meta.Title)
	var mdPath string
	if config.Enabled(om.cfg.WriteMarkdown) {
		mdPath = filepath.Join(om.cfg.Dir, noticeFilesDir, baseName+".md")
		if err := os.WriteFile(mdPath, []byte(markdown), 0644); err != nil {
			return "", fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, mdPath, err)
		}
	}
	if om.cfg.WriteHTML && detail.HTML != "" {
		htmlPath := filepath.Join(om.cfg.Dir, noticeFilesDir, baseName+".html")
		if err := os.WriteFile(htmlPath, []byte(detail.HTML), 0644); err != nil {
			return "", fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, htmlPath, err)
		}
	}

	detailURL := om.portal.DetailURL(meta.ID)
	om.writeJSONLine(&om.detailsFileMu, om.detailsFile, om.detailsFilePath, models.DetailJSONL{
		ID:          meta.ID,
		Title:       meta.Title,
		CreateTime:  meta.CreateTime,
		URL:         detailURL,
		Content:     detail.Content,
		Attachments: detail.Attachments,
		Headings:    headings,
		ContentHash: contentHash,
		FetchedAt:   fetchedAtStr,
		TokenCount:  tokenCount,
	}, taskLog)

	if om.chunksFile != nil {
		chunks, err := process.ChunkNotice(meta, markdown, fetchedAtStr, process.ChunkerConfig{
			MaxChunkSize: om.cfg.Chunking.MaxChunkSize,
			ChunkOverlap: om.cfg.Chunking.ChunkOverlap,
		})
		if err != nil {
			taskLog.Warnf("Failed to chunk notice markdown: %v", err)
		}
		for _, chunk := range chunks {
			om.writeJSONLine(&om.chunksFileMu, om.chunksFile, om.chunksFilePath, chunk, taskLog)
		}
	}

	om.metadataMutex.Lock()
	om.detailsSaved++
	om.metadataMutex.Unlock()

	if config.Enabled(om.cfg.EnableMetadataYAML) {
		rel := ""
		if mdPath != "" {
			if r, err := filepath.Rel(om.cfg.Dir, mdPath); err == nil {
				rel = filepath.ToSlash(r)
			}
		}
		om.metadataMutex.Lock()
		om.collectedNotice = append(om.collectedNotice, models.NoticeFileMeta{
			ID:              meta.ID,
			Title:           meta.Title,
			CreateTime:      meta.CreateTime,
			URL:             detailURL,
			LocalFilePath:   rel,
			FetchedAt:       fetchedAt,
			ContentHash:     contentHash,
			AttachmentCount: len(detail.Attachments),
			Headings:        headings,
			TokenCount:      tokenCount,
		})
		om.metadataMutex.Unlock()
	}

	return mdPath, nil
}

// DetailsSaved returns the number of details recorded so far
func (om *OutputManager) DetailsSaved() int {
	om.metadataMutex.Lock()
	defer om.metadataMutex.Unlock()
	return om.detailsSaved
}

func (om *OutputManager) writeJSONLine(mu *sync.Mutex, file *os.File, path string, v any, taskLog *logrus.Entry) {
	mu.Lock()
	defer mu.Unlock()

	if file == nil {
		return
	}
	line, err := json.Marshal(v)
	if err != nil {
		taskLog.WithField("file", path).Errorf("Failed to marshal JSONL record: %v", err)
		return
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		taskLog.WithField("file", path).Errorf("Failed to write JSONL record: %v", err)
	}
}

// Close syncs and closes the JSONL files and writes metadata.yaml
func (om *OutputManager) Close() error {
	closeFile(om.log, &om.detailsFileMu, &om.detailsFile, om.detailsFilePath)
	closeFile(om.log, &om.chunksFileMu, &om.chunksFile, om.chunksFilePath)
	if !om.opened {
		return nil
	}
	om.opened = false
	return om.writeMetadataYAML()
}

func closeFile(log *logrus.Entry, mu *sync.Mutex, file **os.File, path string) {
	mu.Lock()
	defer mu.Unlock()
	if *file == nil {
		return
	}
	if err := (*file).Sync(); err != nil {
		log.Errorf("Error syncing '%s': %v", path, err)
	}
	if err := (*file).Close(); err != nil {
		log.Errorf("Error closing '%s': %v", path, err)
	}
	*file = nil
}

func (om *OutputManager) writeMetadataYAML() error {
	if !config.Enabled(om.cfg.EnableMetadataYAML) {
		return nil
	}

	om.metadataMutex.Lock()
	meta := om.runMeta
	meta.Notices = make([]models.NoticeFileMeta, len(om.collectedNotice))
	copy(meta.Notices, om.collectedNotice)
	meta.DetailsSaved = om.detailsSaved
	om.metadataMutex.Unlock()
	meta.EndTime = time.Now()

	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("%w: YAML encode run metadata: %w", utils.ErrParsing, err)
	}
	path := filepath.Join(om.cfg.Dir, om.cfg.MetadataYAMLFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, path, err)
	}
	om.log.Infof("Wrote run metadata (%d details) to %s", meta.DetailsSaved, path)
	return nil
}

// RenderMarkdown renders a notice as Markdown: the notice body followed by an attachment list.
func RenderMarkdown(detail *models.NoticeDetail, log *logrus.Entry) string {
	return appendAttachments(markdownBody(detail, log), detail.Attachments)
}

// markdownBody converts the content container with html-to-markdown, falling back to the
// plain extracted text when there is no container HTML or conversion fails.
func markdownBody(detail *models.NoticeDetail, log *logrus.Entry) string {
	if detail.HTML != "" {
		md, err := process.ToMarkdown(detail.HTML)
		if err != nil {
			log.Warnf("Markdown conversion failed, using plain text: %v", err)
		} else if strings.TrimSpace(md) != "" {
			return strings.TrimSpace(md)
		}
	}
	return strings.TrimSpace(detail.Content)
}

func appendAttachments(body string, attachments []models.Attachment) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	if len(attachments) > 0 {
		b.WriteString("\n## Attachments\n\n")
		for _, a := range attachments {
			fmt.Fprintf(&b, "- [%s](%s)\n", strings.TrimSpace(a.Name), a.URL)
		}
	}
	return b.String()
}
