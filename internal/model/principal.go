package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Principal の属性キー。
const (
	AttrID            = "id"
	AttrProvider      = "provider"
	AttrProviderID    = "provider_id"
	AttrLastLoginTime = "last_login_time"
)

// Principal は1回のログインで解決された認証主体を表す。
// セッション層に渡され、永続化はされない（ログインごとに再構築する）。
type Principal struct {
	Authorities      []string       `json:"authorities"`
	Attributes       map[string]any `json:"attributes"`
	NameAttributeKey string         `json:"name_attribute_key"`
}

// Name はNameAttributeKeyが指す属性値を文字列で返す。
func (p *Principal) Name() string {
	if p == nil {
		return ""
	}
	v, ok := p.Attributes[p.NameAttributeKey]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// UserID は属性idに格納されたユーザーIDを返す。
func (p *Principal) UserID() (int64, bool) {
	if p == nil {
		return 0, false
	}
	id, ok := p.Attributes[AttrID].(int64)
	return id, ok
}

// HasAuthority は指定した権限を持つかどうかを返す。
func (p *Principal) HasAuthority(name string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Authorities, name)
}

// UnmarshalJSON はセッションストアから復元する際に数値属性をint64/time.Timeへ戻す。
// encoding/jsonはmap[string]anyの数値をfloat64にするため、idの型を保つ。
func (p *Principal) UnmarshalJSON(data []byte) error {
	type alias Principal
	var raw struct {
		alias
		Attributes map[string]json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = Principal(raw.alias)
	p.Attributes = make(map[string]any, len(raw.Attributes))
	for k, v := range raw.Attributes {
		switch k {
		case AttrID:
			var id int64
			if err := json.Unmarshal(v, &id); err != nil {
				return fmt.Errorf("invalid %s attribute: %w", k, err)
			}
			p.Attributes[k] = id
		case AttrLastLoginTime:
			var ts time.Time
			if err := json.Unmarshal(v, &ts); err != nil {
				return fmt.Errorf("invalid %s attribute: %w", k, err)
			}
			p.Attributes[k] = ts
		default:
			var anyVal any
			if err := json.Unmarshal(v, &anyVal); err != nil {
				return err
			}
			p.Attributes[k] = anyVal
		}
	}
	return nil
}
