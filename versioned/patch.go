package versioned

import (
	"encoding/json"
	"fmt"
)

// MergePatch applies an RFC 7386 style JSON merge patch to a document:
// object members are merged recursively, null members delete keys, and any
// non-object patch replaces the document wholesale. The "id" and "version"
// keys are scrubbed from the patch because the store owns both.
func MergePatch(doc, patch json.RawMessage) (json.RawMessage, error) {
	var p any
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("patch is not valid JSON: %w", err)
	}
	patchMap, ok := p.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("patch must be a JSON object")
	}
	delete(patchMap, "id")
	delete(patchMap, "version")

	docMap := map[string]any{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &docMap); err != nil {
			return nil, fmt.Errorf("document is not a JSON object: %w", err)
		}
	}

	return json.Marshal(mergeObjects(docMap, patchMap))
}

func mergeObjects(doc, patch map[string]any) map[string]any {
	for key, value := range patch {
		if value == nil {
			delete(doc, key)
			continue
		}
		if patchChild, ok := value.(map[string]any); ok {
			docChild, _ := doc[key].(map[string]any)
			if docChild == nil {
				docChild = map[string]any{}
			}
			doc[key] = mergeObjects(docChild, patchChild)
			continue
		}
		doc[key] = value
	}
	return doc
}
