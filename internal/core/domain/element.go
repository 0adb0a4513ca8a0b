package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ElementKind string

const (
	ElementText  ElementKind = "text"
	ElementTable ElementKind = "table"
	ElementImage ElementKind = "image"
)

// Element is one parsed item of a page. The set of implementations is closed:
// TextElement, TableElement and ImageElement.
type Element interface {
	Kind() ElementKind
	Page() int
	element()
}

type TextElement struct {
	PageIdx int
	Text    string
}

type TableElement struct {
	PageIdx  int
	Body     string
	Caption  string
	Footnote string
}

type ImageElement struct {
	PageIdx  int
	Path     string
	Caption  string
	Footnote string
}

func (TextElement) Kind() ElementKind  { return ElementText }
func (TableElement) Kind() ElementKind { return ElementTable }
func (ImageElement) Kind() ElementKind { return ElementImage }

func (e TextElement) Page() int  { return e.PageIdx }
func (e TableElement) Page() int { return e.PageIdx }
func (e ImageElement) Page() int { return e.PageIdx }

func (TextElement) element()  {}
func (TableElement) element() {}
func (ImageElement) element() {}

// FileName is the base name of the image path.
func (e ImageElement) FileName() string {
	if e.Path == "" {
		return ""
	}
	return path.Base(e.Path)
}

type wireElement struct {
	Type          string   `json:"type" validate:"required"`
	PageIdx       int      `json:"page_idx" validate:"gte=0"`
	Text          string   `json:"text,omitempty"`
	TableBody     string   `json:"table_body,omitempty"`
	TableCaption  []string `json:"table_caption,omitempty"`
	TableFootnote []string `json:"table_footnote,omitempty"`
	ImgPath       string   `json:"img_path,omitempty"`
	ImgCaption    []string `json:"img_caption,omitempty"`
	ImgFootnote   []string `json:"img_footnote,omitempty"`
}

var elementValidator = validator.New()

// DecodeElements parses the layout parser's JSON element list. Unknown element
// types carrying text (equations, headers) decode as text.
func DecodeElements(data []byte) ([]Element, error) {
	var raw []wireElement
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, WrapError(ErrInvalidInput, "decode elements", err)
	}
	if len(raw) == 0 {
		return nil, WrapError(ErrInvalidInput, "decode elements", errors.New("empty document"))
	}

	out := make([]Element, 0, len(raw))
	for i, item := range raw {
		if err := elementValidator.Struct(item); err != nil {
			return nil, WrapError(ErrInvalidInput, "decode elements", fmt.Errorf("element %d: %w", i, err))
		}
		switch ElementKind(item.Type) {
		case ElementText:
			out = append(out, TextElement{PageIdx: item.PageIdx, Text: item.Text})
		case ElementTable:
			if strings.TrimSpace(item.TableBody) == "" {
				return nil, WrapError(ErrInvalidInput, "decode elements", fmt.Errorf("element %d: table without body", i))
			}
			out = append(out, TableElement{
				PageIdx:  item.PageIdx,
				Body:     item.TableBody,
				Caption:  joinLines(item.TableCaption),
				Footnote: joinLines(item.TableFootnote),
			})
		case ElementImage:
			if strings.TrimSpace(item.ImgPath) == "" {
				return nil, WrapError(ErrInvalidInput, "decode elements", fmt.Errorf("element %d: image without path", i))
			}
			out = append(out, ImageElement{
				PageIdx:  item.PageIdx,
				Path:     item.ImgPath,
				Caption:  joinLines(item.ImgCaption),
				Footnote: joinLines(item.ImgFootnote),
			})
		default:
			if strings.TrimSpace(item.Text) == "" {
				return nil, WrapError(ErrInvalidInput, "decode elements", fmt.Errorf("element %d: unsupported type %q", i, item.Type))
			}
			out = append(out, TextElement{PageIdx: item.PageIdx, Text: item.Text})
		}
	}
	return out, nil
}

func joinLines(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// Page is the assembled content of one page.
type Page struct {
	Index    int
	Elements []ResolvedElement
}

// ResolvedElement is an assembled item: a TextBlock, a TableElement or an
// ImageElement with its caption resolved.
type ResolvedElement interface {
	Kind() ElementKind
	resolved()
}

// TextBlock is a run of consecutive text elements on one page.
type TextBlock struct {
	Parts []string
}

func (TextBlock) Kind() ElementKind { return ElementText }

func (b TextBlock) Text() string { return strings.Join(b.Parts, "\n") }

// LastPart returns the final merged text element, or "".
func (b TextBlock) LastPart() string {
	if len(b.Parts) == 0 {
		return ""
	}
	return b.Parts[len(b.Parts)-1]
}

func (TextBlock) resolved()    {}
func (TableElement) resolved() {}
func (ImageElement) resolved() {}
