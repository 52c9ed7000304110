package mail

import (
	"fmt"

	"github.com/llmready/llmready/app/models"
)

// GenerationNotifier sends the outcome emails for finished generations. It
// satisfies the generator's notifier contract.
type GenerationNotifier struct{}

func NewGenerationNotifier() *GenerationNotifier {
	return &GenerationNotifier{}
}

func (n *GenerationNotifier) GenerationCompleted(user *models.User, website *models.Website, gen *models.Generation) error {
	subject := fmt.Sprintf("Your llms.txt for %s is ready", website.DisplayName())
	body := fmt.Sprintf(
		"<p>Hi %s,</p>"+
			"<p>Your generation for <strong>%s</strong> finished successfully.</p>"+
			"<ul><li>Pages crawled: %d</li><li>Files: %d</li><li>Archive size: %d bytes</li></ul>"+
			"<p>You can download the archive from your dashboard.</p>",
		user.DisplayName(), website.URL, gen.TotalPages, gen.TotalFiles, gen.FileSize,
	)
	return SendMail(user.Email, subject, body)
}

func (n *GenerationNotifier) GenerationFailed(user *models.User, website *models.Website, reason string) error {
	subject := fmt.Sprintf("Generation for %s failed", website.DisplayName())
	body := fmt.Sprintf(
		"<p>Hi %s,</p>"+
			"<p>Unfortunately the generation for <strong>%s</strong> failed:</p>"+
			"<p><em>%s</em></p>"+
			"<p>You can retry from your dashboard. If the problem persists, reply to this email.</p>",
		user.DisplayName(), website.URL, reason,
	)
	return SendMail(user.Email, subject, body)
}
