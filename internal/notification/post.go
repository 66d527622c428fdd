package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const sendTimeout = 10 * time.Second

// poster is the JSON-over-HTTP transport shared by the webhook and Telegram
// channels.
type poster struct {
	name   string
	client *resty.Client
}

func newPoster(name string) poster {
	client := resty.New()
	client.SetTimeout(sendTimeout)
	client.SetHeader("Content-Type", "application/json")
	return poster{name: name, client: client}
}

// post sends v as a JSON body and treats any non-2xx reply as a failure. Up
// to 256 bytes of the reply body are kept in the error.
func (p poster) post(ctx context.Context, url string, v any) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(v).
		Post(url)
	if err != nil {
		return fmt.Errorf("%s: send: %w", p.name, err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 256 {
			body = body[:256]
		}
		return fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode(), body)
	}
	return nil
}
