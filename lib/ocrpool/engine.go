package ocrpool

import (
	"context"

	"github.com/otiai10/gosseract/v2"
)

// the captcha only ever contains uppercase letters and digits
const captchaWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Engine is a single warmed OCR instance. Engines are not safe for
// concurrent use, exclusivity is guaranteed by the pool's slot handoff.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Close() error
}

type EngineFactory func() (Engine, error)

type tesseractEngine struct {
	client *gosseract.Client
}

// NewTesseractEngine creates a gosseract client restricted to the captcha
// alphabet and single-word page segmentation.
func NewTesseractEngine() (Engine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.SetWhitelist(captchaWhitelist); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_WORD); err != nil {
		client.Close()
		return nil, err
	}
	return &tesseractEngine{client: client}, nil
}

func (e *tesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := e.client.SetImageFromBytes(image)
	if err != nil {
		return "", err
	}
	return e.client.Text()
}

func (e *tesseractEngine) Close() error {
	return e.client.Close()
}
