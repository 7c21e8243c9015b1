package xhs

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

// flexString decodes a JSON string or number into its string form. The API
// is inconsistent about counters.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) int() int {
	n, _ := strconv.Atoi(string(f))
	return n
}

type searchRequest struct {
	Keyword  string `json:"keyword"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	SearchID string `json:"search_id"`
	Sort     string `json:"sort"`
	NoteType int    `json:"note_type"`
}

type searchData struct {
	HasMore bool `json:"has_more"`
	Items   []struct {
		ID        string `json:"id"`
		ModelType string `json:"model_type"`
		XSecToken string `json:"xsec_token"`
	} `json:"items"`
}

func (d searchData) page() crawler.SearchPage {
	out := crawler.SearchPage{HasMore: d.HasMore, Items: make([]crawler.SearchItem, 0, len(d.Items))}
	for _, it := range d.Items {
		out.Items = append(out.Items, crawler.SearchItem{ID: it.ID, ModelType: it.ModelType, XSecToken: it.XSecToken})
	}
	return out
}

type feedRequest struct {
	SourceNoteID string   `json:"source_note_id"`
	ImageScenes  []string `json:"image_scenes"`
}

type wireUser struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type noteCard struct {
	NoteID       string   `json:"note_id"`
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Desc         string   `json:"desc"`
	Time         int64    `json:"time"`
	LastUpdateAt int64    `json:"last_update_time"`
	User         wireUser `json:"user"`
	IPLocation   string   `json:"ip_location"`
	InteractInfo struct {
		LikedCount     flexString `json:"liked_count"`
		CollectedCount flexString `json:"collected_count"`
		CommentCount   flexString `json:"comment_count"`
		ShareCount     flexString `json:"share_count"`
	} `json:"interact_info"`
	ImageList []struct {
		URL        string `json:"url"`
		URLDefault string `json:"url_default"`
	} `json:"image_list"`
	TagList []struct {
		Name string `json:"name"`
	} `json:"tag_list"`
}

type feedData struct {
	Items []struct {
		ID       string   `json:"id"`
		NoteCard noteCard `json:"note_card"`
	} `json:"items"`
}

func (n noteCard) note(noteID, webURL string) crawler.Note {
	if n.NoteID == "" {
		n.NoteID = noteID
	}
	out := crawler.Note{
		NoteID:         n.NoteID,
		Type:           n.Type,
		Title:          n.Title,
		Desc:           n.Desc,
		UserID:         n.User.UserID,
		Nickname:       n.User.Nickname,
		Avatar:         n.User.Avatar,
		PublishedAt:    n.Time,
		LastUpdateAt:   n.LastUpdateAt,
		LikedCount:     string(n.InteractInfo.LikedCount),
		CollectedCount: string(n.InteractInfo.CollectedCount),
		CommentCount:   string(n.InteractInfo.CommentCount),
		ShareCount:     string(n.InteractInfo.ShareCount),
		IPLocation:     n.IPLocation,
		NoteURL:        webURL + "/explore/" + n.NoteID,
	}
	if out.Title == "" && len(out.Desc) > 0 {
		r := []rune(out.Desc)
		out.Title = string(r[:min(len(r), 255)])
	}
	for _, img := range n.ImageList {
		u := img.URLDefault
		if u == "" {
			u = img.URL
		}
		if u != "" {
			out.ImageList = append(out.ImageList, u)
		}
	}
	for _, tag := range n.TagList {
		if tag.Name != "" {
			out.TagList = append(out.TagList, tag.Name)
		}
	}
	return out
}

type wireComment struct {
	ID              string     `json:"id"`
	NoteID          string     `json:"note_id"`
	Content         string     `json:"content"`
	CreateTime      int64      `json:"create_time"`
	LikeCount       flexString `json:"like_count"`
	IPLocation      string     `json:"ip_location"`
	SubCommentCount flexString `json:"sub_comment_count"`
	UserInfo        wireUser   `json:"user_info"`
	TargetComment   struct {
		ID string `json:"id"`
	} `json:"target_comment"`
	SubComments []wireComment `json:"sub_comments"`
}

type commentData struct {
	Comments []wireComment `json:"comments"`
	Cursor   string        `json:"cursor"`
	HasMore  bool          `json:"has_more"`
}

// flatten returns the page's comments followed by their inline replies.
// Entries without an id cannot be keyed by a sink and are dropped; skipped
// counts them.
func (d commentData) flatten(noteID string) (out []crawler.Comment, skipped int) {
	out = make([]crawler.Comment, 0, len(d.Comments))
	for _, c := range d.Comments {
		if c.ID == "" {
			skipped++
		} else {
			out = append(out, c.comment(noteID, ""))
		}
		for _, sub := range c.SubComments {
			if sub.ID == "" {
				skipped++
				continue
			}
			out = append(out, sub.comment(noteID, c.ID))
		}
	}
	return out, skipped
}

func (c wireComment) comment(noteID, parentID string) crawler.Comment {
	if c.NoteID != "" {
		noteID = c.NoteID
	}
	if parentID == "" {
		parentID = c.TargetComment.ID
	}
	return crawler.Comment{
		CommentID:       c.ID,
		NoteID:          noteID,
		ParentCommentID: parentID,
		Content:         c.Content,
		UserID:          c.UserInfo.UserID,
		Nickname:        c.UserInfo.Nickname,
		CreatedAt:       c.CreateTime,
		LikeCount:       string(c.LikeCount),
		SubCommentCount: c.SubCommentCount.int(),
		IPLocation:      c.IPLocation,
	}
}

type postedData struct {
	Notes []struct {
		NoteID    string `json:"note_id"`
		XSecToken string `json:"xsec_token"`
	} `json:"notes"`
	Cursor  string `json:"cursor"`
	HasMore bool   `json:"has_more"`
}

func (d postedData) refs() []crawler.NoteRef {
	out := make([]crawler.NoteRef, 0, len(d.Notes))
	for _, n := range d.Notes {
		if n.NoteID == "" {
			continue
		}
		out = append(out, crawler.NoteRef{NoteID: n.NoteID, XSecToken: n.XSecToken})
	}
	return out
}
