package protocol

import "context"

// SubjectSource exposes a business entity's fields as a read-only mapping of
// dotted paths to values (contact.name, invoice.total). It is the only
// coupling between the engine and business-entity internals; the owning
// module registers one source per subject type.
type SubjectSource interface {
	SubjectFields(ctx context.Context, subjectType, subjectID string) (map[string]any, error)
}

// SubjectSourceFunc adapts a function to the SubjectSource interface.
type SubjectSourceFunc func(ctx context.Context, subjectType, subjectID string) (map[string]any, error)

func (f SubjectSourceFunc) SubjectFields(ctx context.Context, subjectType, subjectID string) (map[string]any, error) {
	return f(ctx, subjectType, subjectID)
}

// Credential kinds handed out by the store.
const (
	CredentialTelegramBot     = "telegram_bot"
	CredentialWhatsAppAccount = "whatsapp_account"
)

// Credential is an opaque provider binding resolved by reference from node
// config ("credential_id"). Values depend on the kind: a telegram bot carries
// "token"; a whatsapp account carries "phone_number_id" and "access_token".
type Credential struct {
	ID     string
	Kind   string
	Values map[string]string
}

// CredentialStore resolves stored provider credentials. The engine never
// persists credentials itself.
type CredentialStore interface {
	Get(ctx context.Context, kind, id string) (*Credential, error)
}
