package recipetemplate

import (
	"fmt"
	"regexp"
)

func validateValue(p Parameter, v any) error {
	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("recipetemplate: parameter %q expects a string", p.Name)
		}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return fmt.Errorf("recipetemplate: parameter %q has invalid pattern: %w", p.Name, err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("recipetemplate: parameter %q value %q does not match pattern `%s`", p.Name, s, p.Pattern)
			}
		}
	case TypeNumber:
		n, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("recipetemplate: parameter %q expects a number", p.Name)
		}
		if p.Max != nil && n > *p.Max {
			return fmt.Errorf("recipetemplate: parameter `%s` value `%v` exceeds max `%v`", p.Name, v, *p.Max)
		}
		if p.Min != nil && n < *p.Min {
			return fmt.Errorf("recipetemplate: parameter `%s` value `%v` is below min `%v`", p.Name, v, *p.Min)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("recipetemplate: parameter %q expects a boolean", p.Name)
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("recipetemplate: parameter %q expects an array", p.Name)
		}
		if p.Items != nil {
			for i, item := range arr {
				if err := validateValue(*p.Items, item); err != nil {
					return fmt.Errorf("recipetemplate: parameter %q item %d: %w", p.Name, i, err)
				}
			}
		}
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("recipetemplate: parameter %q expects an object", p.Name)
		}
		for name, sub := range p.Props {
			if sv, ok := obj[name]; ok {
				if err := validateValue(*sub, sv); err != nil {
					return fmt.Errorf("recipetemplate: parameter %q.%s: %w", p.Name, name, err)
				}
			}
		}
	default:
		return fmt.Errorf("recipetemplate: parameter %q has unknown type %q", p.Name, p.Type)
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
