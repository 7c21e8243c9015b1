package xhs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

const initialStatePrefix = "window.__INITIAL_STATE__="

type profileState struct {
	User struct {
		UserPageData struct {
			BasicInfo struct {
				Nickname   string `json:"nickname"`
				Gender     *int   `json:"gender"`
				Images     string `json:"images"`
				Desc       string `json:"desc"`
				IPLocation string `json:"ipLocation"`
			} `json:"basicInfo"`
			Interactions []struct {
				Type  string     `json:"type"`
				Count flexString `json:"count"`
			} `json:"interactions"`
			Tags []struct {
				Name string `json:"name"`
			} `json:"tags"`
		} `json:"userPageData"`
	} `json:"user"`
}

// CreatorInfo scrapes the creator's profile page. It returns nil when the
// page carries no profile data.
func (c *Client) CreatorInfo(ctx context.Context, userID string) (*crawler.Creator, error) {
	const op = "creator info"
	hdr := c.headers()
	hdr.Del("Content-Type")
	body, err := c.fetch(ctx, op, "GET", c.cfg.WebURL+"/user/profile/"+url.PathEscape(userID), nil, hdr)
	if err != nil {
		return nil, err
	}
	creator, err := parseProfile(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", op, userID, crawler.ErrFetchFailed, err)
	}
	if creator != nil {
		creator.UserID = userID
	}
	return creator, nil
}

// parseProfile extracts the creator from the page's initial state script.
func parseProfile(html []byte) (*crawler.Creator, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse profile html: %w", err)
	}
	var raw string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.HasPrefix(text, initialStatePrefix) {
			raw = strings.TrimSuffix(strings.TrimPrefix(text, initialStatePrefix), ";")
			return false
		}
		return true
	})
	if raw == "" {
		return nil, nil
	}
	// The state is a JS literal; undefined is the only non-JSON token it uses.
	raw = strings.ReplaceAll(raw, "undefined", "null")
	var state profileState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode initial state: %w", err)
	}
	page := state.User.UserPageData
	if page.BasicInfo.Nickname == "" && len(page.Interactions) == 0 {
		return nil, nil
	}
	creator := &crawler.Creator{
		Nickname:   page.BasicInfo.Nickname,
		Avatar:     page.BasicInfo.Images,
		Desc:       page.BasicInfo.Desc,
		IPLocation: page.BasicInfo.IPLocation,
	}
	if g := page.BasicInfo.Gender; g != nil {
		switch *g {
		case 0:
			creator.Gender = "male"
		case 1:
			creator.Gender = "female"
		}
	}
	for _, it := range page.Interactions {
		switch it.Type {
		case "follows":
			creator.Follows = string(it.Count)
		case "fans":
			creator.Fans = string(it.Count)
		case "interaction":
			creator.Interaction = string(it.Count)
		}
	}
	for _, tag := range page.Tags {
		if tag.Name != "" {
			creator.Tags = append(creator.Tags, tag.Name)
		}
	}
	return creator, nil
}
