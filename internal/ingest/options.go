package ingest

import "github.com/okian/sightline/internal/domain/model"

// Option configures a Producer.
type Option func(*Producer)

// WithMode sets the pipeline mode stamped on every published message.
func WithMode(mode model.Mode) Option {
	return func(p *Producer) {
		if mode.Valid() {
			p.mode = mode
		}
	}
}

// WithIdentityHint attaches the enrollment subject's identity to every
// message, for enrollment sessions where the subject is known up front.
func WithIdentityHint(id int64) Option {
	return func(p *Producer) {
		if id > 0 {
			p.identityHint = &id
		}
	}
}

// WithFrameCap stops each source loop after n frames. Zero means
// unbounded.
func WithFrameCap(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.frameCap = n
		}
	}
}

// WithPreview attaches a best-effort preview hook.
func WithPreview(fn Preview) Option {
	return func(p *Producer) {
		p.preview = fn
	}
}
