package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Lesson cell keys as sent by the EasyCourse grid endpoint.
const (
	FieldTimestamp        = "timestamp"
	FieldType             = "tipo"
	FieldEndTime          = "ora_fine"
	FieldName             = "nome"
	FieldTeachingUnitName = "nome_insegnamento"
	FieldTeachingUnitCode = "codice_insegnamento"
	FieldRoom             = "codice_aula"
	FieldSite             = "codice_sede"
	FieldTeachers         = "docente"
	FieldTeacherEmails    = "mail_docente"
	FieldCancelled        = "Annullato"
)

// Exam entry keys as sent by the EasyTest endpoint.
const (
	FieldExamTimestamp = "Timestamp"
	FieldExamEndTime   = "OraFine"
	FieldExamType      = "TipoEsame"
	FieldExamName      = "nome"
	FieldExamRooms     = "AulaCodice"
)

// record is a loosely typed JSON object. Values are coerced on access
// because upstream mixes numbers, numeric strings and nulls freely.
type record map[string]any

func (r record) str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

func (r record) has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

func (r record) epoch(key string) (int64, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %q", key)
	}
	if s, isStr := v.(string); isStr {
		v = strings.TrimSpace(s)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return n, nil
}

// LessonCell is one entry of the lessons grid ("celle").
type LessonCell record

func (c LessonCell) Timestamp() (int64, error) { return record(c).epoch(FieldTimestamp) }
func (c LessonCell) Type() string              { return record(c).str(FieldType) }
func (c LessonCell) EndTime() string           { return record(c).str(FieldEndTime) }
func (c LessonCell) Name() string              { return record(c).str(FieldName) }
func (c LessonCell) TeachingUnitName() string  { return record(c).str(FieldTeachingUnitName) }
func (c LessonCell) TeachingUnitCode() string  { return record(c).str(FieldTeachingUnitCode) }
func (c LessonCell) Room() string              { return record(c).str(FieldRoom) }
func (c LessonCell) Site() string              { return record(c).str(FieldSite) }
func (c LessonCell) Teachers() string          { return record(c).str(FieldTeachers) }
func (c LessonCell) TeacherEmails() string     { return record(c).str(FieldTeacherEmails) }

// Cancelled reports whether "Annullato" is the flag value "1". Upstream
// sends it either as a string or as a number.
func (c LessonCell) Cancelled() bool {
	if !record(c).has(FieldCancelled) {
		return false
	}
	return strings.TrimSpace(record(c).str(FieldCancelled)) == "1"
}

// ExamEntry is one "appello" of a teaching unit.
type ExamEntry record

func (e ExamEntry) Timestamp() (int64, error) { return record(e).epoch(FieldExamTimestamp) }
func (e ExamEntry) EndTime() string           { return record(e).str(FieldExamEndTime) }
func (e ExamEntry) ExamType() string          { return record(e).str(FieldExamType) }
func (e ExamEntry) Name() string              { return record(e).str(FieldExamName) }

// Rooms returns the ordered room codes. A bare string is a single room.
func (e ExamEntry) Rooms() []string {
	v, ok := e[FieldExamRooms]
	if !ok || v == nil {
		return nil
	}
	if s, isStr := v.(string); isStr {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []string{s}
	}
	rooms, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil
	}
	return rooms
}

type lessonsResponse struct {
	Cells []LessonCell `json:"celle"`
}

type examsResponse struct {
	TeachingUnits json.RawMessage `json:"Insegnamenti"`
}

type examUnit struct {
	Exams []ExamEntry `json:"Appelli"`
}

func newDecoder(body []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec
}

// decodeLessons extracts the "celle" array. A missing array is an empty grid.
func decodeLessons(body []byte) ([]LessonCell, error) {
	var resp lessonsResponse
	if err := newDecoder(body).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Cells == nil {
		return []LessonCell{}, nil
	}
	return resp.Cells, nil
}

// decodeExams flattens "Insegnamenti" into one list of entries. Units are
// visited in sorted key order. An empty PHP array ("[]") means no units.
func decodeExams(body []byte) ([]ExamEntry, error) {
	var resp examsResponse
	if err := newDecoder(body).Decode(&resp); err != nil {
		return nil, err
	}

	raw := bytes.TrimSpace(resp.TeachingUnits)
	out := make([]ExamEntry, 0)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}

	if raw[0] == '[' {
		var units []examUnit
		if err := newDecoder(raw).Decode(&units); err != nil {
			return nil, err
		}
		for _, u := range units {
			out = append(out, u.Exams...)
		}
		return out, nil
	}

	var units map[string]examUnit
	if err := newDecoder(raw).Decode(&units); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(units))
	for k := range units {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, units[k].Exams...)
	}
	return out, nil
}
