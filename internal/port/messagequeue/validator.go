package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectJobsEmails:
		var job EmailJob
		if err := json.Unmarshal(data, &job); err != nil {
			return schemaErr(subject, err)
		}
		if job.To == "" || job.Template == "" {
			return schemaErr(subject, errors.New("to and template are required"))
		}
	case subject == SubjectJobsDocuments:
		var job DocumentJob
		if err := json.Unmarshal(data, &job); err != nil {
			return schemaErr(subject, err)
		}
		if job.Kind != DocumentPDF && job.Kind != DocumentExcel {
			return schemaErr(subject, fmt.Errorf("unknown document kind %q", job.Kind))
		}
	case subject == SubjectJobsNotifications:
		var job NotificationJob
		if err := json.Unmarshal(data, &job); err != nil {
			return schemaErr(subject, err)
		}
		if job.TenantID == "" || job.UserID == "" {
			return schemaErr(subject, errors.New("tenant_id and user_id are required"))
		}
	case subject == SubjectTenantInvalidate:
		var p TenantInvalidatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return schemaErr(subject, err)
		}
	case strings.HasPrefix(subject, SubjectRealtimePrefix+"."):
		var env RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return schemaErr(subject, err)
		}
		if env.TenantID == "" || env.Room == "" || env.Event == "" {
			return schemaErr(subject, errors.New("tenant_id, room and event are required"))
		}
		if subject != RealtimeSubject(env.TenantID) {
			return schemaErr(subject, fmt.Errorf("envelope tenant %s does not match subject", env.TenantID))
		}
	}
	return nil
}

func schemaErr(subject string, err error) error {
	return fmt.Errorf("schema validation failed for %s: %w", subject, err)
}
