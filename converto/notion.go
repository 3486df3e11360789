package converto

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jomei/notionapi"
)

// Transcript is one lesson transcript pulled from the Notion database,
// ready for chunking and embedding.
type Transcript struct {
	PageID  string
	Title   string
	Course  string
	Content string
}

// Notion reads lesson transcripts from a Notion database and marks pages as
// indexed once their embeddings are stored.
//
// Transcript pages are expected to carry a title property, a select
// property naming the course, and a checkbox property tracking whether the
// page has been indexed (names configurable via NotionConfig).
type Notion struct {
	client *notionapi.Client
	config *NotionConfig
	logger *slog.Logger
}

func newNotion(config *NotionConfig, httpClient *http.Client) *Notion {
	opts := []notionapi.ClientOption{}
	if httpClient != nil {
		opts = append(opts, notionapi.WithHTTPClient(httpClient))
	}
	return &Notion{
		client: notionapi.NewClient(notionapi.Token(config.Token), opts...),
		config: config,
		logger: newTintLogger(config.LogLevel, "notion"),
	}
}

// UnindexedTranscripts returns the transcripts for every page in the
// database whose indexed checkbox is not set.
func (n *Notion) UnindexedTranscripts(ctx context.Context) ([]Transcript, error) {
	var transcripts []Transcript

	var cursor notionapi.Cursor
	for {
		resp, err := n.client.Database.Query(
			ctx,
			notionapi.DatabaseID(n.config.DatabaseID),
			&notionapi.DatabaseQueryRequest{StartCursor: cursor},
		)
		if err != nil {
			return nil, fmt.Errorf("error querying notion database: %w", err)
		}

		for _, page := range resp.Results {
			transcript, ok := n.transcriptFromPage(page)
			if !ok {
				continue
			}
			content, err := n.PageText(ctx, transcript.PageID)
			if err != nil {
				return nil, fmt.Errorf(
					"error reading page %s: %w",
					transcript.PageID,
					err,
				)
			}
			transcript.Content = content
			transcripts = append(transcripts, transcript)
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return transcripts, nil
}

// transcriptFromPage extracts page metadata. The returned bool is false when
// the page should be skipped: already indexed, or missing a usable title.
func (n *Notion) transcriptFromPage(page notionapi.Page) (Transcript, bool) {
	if checkbox, ok := page.Properties[n.config.IndexedProperty].(*notionapi.CheckboxProperty); ok &&
		checkbox.Checkbox {
		return Transcript{}, false
	}

	transcript := Transcript{PageID: page.ID.String()}

	title, ok := page.Properties[n.config.TitleProperty].(*notionapi.TitleProperty)
	if !ok || len(title.Title) == 0 {
		n.logger.Warn(
			"skipping page without title property",
			"page_id", transcript.PageID,
		)
		return Transcript{}, false
	}
	transcript.Title = title.Title[0].PlainText

	if course, ok := page.Properties[n.config.CourseProperty].(*notionapi.SelectProperty); ok {
		transcript.Course = course.Select.Name
	}

	return transcript, true
}

// PageText returns the text content of a page: the plain text of every
// paragraph block, newline-joined, across all block children pages.
func (n *Notion) PageText(ctx context.Context, pageID string) (string, error) {
	var blocks []notionapi.Block

	var cursor notionapi.Cursor
	for {
		resp, err := n.client.Block.GetChildren(
			ctx,
			notionapi.BlockID(pageID),
			&notionapi.Pagination{StartCursor: cursor},
		)
		if err != nil {
			return "", fmt.Errorf("error listing block children: %w", err)
		}
		blocks = append(blocks, resp.Results...)
		if !resp.HasMore {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	return extractParagraphText(blocks), nil
}

// extractParagraphText joins the plain text of all paragraph blocks.
// Non-paragraph blocks (headings, dividers, embeds) are skipped: transcript
// pages store their content as plain paragraphs.
func extractParagraphText(blocks []notionapi.Block) string {
	var texts []string
	for _, block := range blocks {
		paragraph, ok := block.(*notionapi.ParagraphBlock)
		if !ok {
			continue
		}
		for _, part := range paragraph.Paragraph.RichText {
			texts = append(texts, part.PlainText)
		}
	}
	return strings.Join(texts, "\n")
}

// MarkPageIndexed sets the indexed checkbox property on a Notion page.
func (n *Notion) MarkPageIndexed(ctx context.Context, pageID string) error {
	_, err := n.client.Page.Update(
		ctx,
		notionapi.PageID(pageID),
		&notionapi.PageUpdateRequest{
			Properties: notionapi.Properties{
				n.config.IndexedProperty: notionapi.CheckboxProperty{
					Checkbox: true,
				},
			},
		},
	)
	if err != nil {
		return fmt.Errorf("error marking page %s indexed: %w", pageID, err)
	}
	return nil
}
