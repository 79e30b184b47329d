package template

import "fmt"

// node is one element of a parsed template body.
type node interface{}

type textNode struct{ text string }

// expr is a dotted identifier path (e.g. var.name) or a literal, optionally
// a helper call with positional and keyword arguments.
type expr struct {
	namespace string   // "" for literals
	path      []string // identifier path after the namespace, or the bare ident for a helper/literal
	literal   any      // set when this expr is a string/number literal
	isLiteral bool
	helper    string // set when this is a helper invocation
	args      []expr
	kwargs    map[string]expr
}

type exprNode struct{ e expr }

type ifNode struct {
	cond     expr
	negate   bool // "unless"
	body     []node
	elseBody []node
}

type eachNode struct {
	collection expr
	body       []node
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) peekAt(off int) token {
	if p.pos+off >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos+off]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

// isCloseTag reports whether the parser is positioned at {{/name}}.
func (p *parser) isCloseTag() (name string, ok bool) {
	if p.peek().kind != tokBlockOpen {
		return "", false
	}
	if p.peekAt(1).kind == tokIdent && p.peekAt(1).val == "/" {
		return p.peekAt(2).val, true
	}
	return "", false
}

// isElseTag reports whether the parser is positioned at a bare {{else}}.
func (p *parser) isElseTag() bool {
	return p.peek().kind == tokExprOpen && p.peekAt(1).kind == tokIdent && p.peekAt(1).val == "else" && p.peekAt(2).kind == tokClose
}

// parseNodes parses nodes until EOF (when closeName == "") or until a
// matching {{/closeName}}, which it consumes.
func (p *parser) parseNodes(closeName string) ([]node, error) {
	var nodes []node
	for {
		if p.peek().kind == tokEOF {
			if closeName != "" {
				return nil, fmt.Errorf("unexpected end of template, expected {{/%s}}", closeName)
			}
			return nodes, nil
		}
		if name, ok := p.isCloseTag(); ok {
			if closeName == "" {
				return nil, fmt.Errorf("unexpected closing tag {{/%s}}", name)
			}
			p.pos += 2 // tokBlockOpen, '/'
			p.next()   // the name ident
			if err := p.expectClose(); err != nil {
				return nil, err
			}
			if name != closeName {
				return nil, fmt.Errorf("mismatched closing tag {{/%s}}, expected {{/%s}}", name, closeName)
			}
			return nodes, nil
		}
		n, err := p.parseOneNode(closeName)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
}

// parseIfBody parses an if/unless body, splitting on a bare {{else}} marker
// into the main and else branches, up to the matching {{/closeName}}.
func (p *parser) parseIfBody(closeName string) ([]node, []node, error) {
	var body []node
	for {
		if p.peek().kind == tokEOF {
			return nil, nil, fmt.Errorf("unexpected end of template, expected {{/%s}}", closeName)
		}
		if name, ok := p.isCloseTag(); ok {
			p.pos += 2 // tokBlockOpen, '/'
			p.next()   // the name ident
			if err := p.expectClose(); err != nil {
				return nil, nil, err
			}
			if name != closeName {
				return nil, nil, fmt.Errorf("mismatched closing tag {{/%s}}, expected {{/%s}}", name, closeName)
			}
			return body, nil, nil
		}
		if p.isElseTag() {
			p.pos += 3 // tokExprOpen, 'else', tokClose
			elseBody, err := p.parseNodes(closeName)
			if err != nil {
				return nil, nil, err
			}
			return body, elseBody, nil
		}
		n, err := p.parseOneNode(closeName)
		if err != nil {
			return nil, nil, err
		}
		body = append(body, n)
	}
}

// parseOneNode parses a single text run, expression, or nested block,
// assuming the current position is not a close tag for enclosingClose.
func (p *parser) parseOneNode(enclosingClose string) (node, error) {
	t := p.peek()
	switch t.kind {
	case tokText:
		p.next()
		return textNode{text: t.val}, nil
	case tokExprOpen:
		p.next()
		e, err := p.parseExprTokens()
		if err != nil {
			return nil, err
		}
		return exprNode{e: e}, nil
	case tokBlockOpen:
		p.next()
		keyword := p.next()
		switch keyword.val {
		case "if", "unless":
			cond, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectClose(); err != nil {
				return nil, err
			}
			body, elseBody, err := p.parseIfBody(keyword.val)
			if err != nil {
				return nil, err
			}
			return ifNode{cond: cond, negate: keyword.val == "unless", body: body, elseBody: elseBody}, nil
		case "each":
			coll, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectClose(); err != nil {
				return nil, err
			}
			body, err := p.parseNodes("each")
			if err != nil {
				return nil, err
			}
			return eachNode{collection: coll, body: body}, nil
		default:
			return nil, fmt.Errorf("unknown block helper %q", keyword.val)
		}
	default:
		return nil, fmt.Errorf("unexpected token in template body")
	}
}

func (p *parser) expectClose() error {
	t := p.next()
	if t.kind != tokClose {
		return fmt.Errorf("expected end of expression")
	}
	return nil
}

// parseExprTokens parses a full {{...}} expression and consumes its
// trailing tokClose.
func (p *parser) parseExprTokens() (expr, error) {
	e, err := p.parseExpr()
	if err != nil {
		return expr{}, err
	}
	if err := p.expectClose(); err != nil {
		return expr{}, err
	}
	return e, nil
}

// parseExpr parses one expression: a dotted path, a literal, or a helper
// invocation (ident followed by more args before the closing }}).
func (p *parser) parseExpr() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.next()
		return expr{literal: t.val, isLiteral: true}, nil
	case tokNumber:
		p.next()
		return expr{literal: t.val, isLiteral: true}, nil
	case tokIdent:
		p.next()
		name := t.val
		path := []string{name}
		for p.peek().kind == tokDot {
			p.next()
			ident := p.next()
			if ident.kind != tokIdent {
				return expr{}, fmt.Errorf("expected identifier after '.'")
			}
			path = append(path, ident.val)
		}
		base := expr{namespace: path[0], path: path[1:]}

		// If more tokens follow before tokClose and aren't '.', this is a
		// helper invocation: name arg1 arg2 key=value.
		if p.peek().kind == tokIdent || p.peek().kind == tokString || p.peek().kind == tokNumber {
			helperName := name
			var args []expr
			kwargs := map[string]expr{}
			// An argument is a literal or a dotted path, never a nested helper
			// call, so {{eq var.x "1"}} passes var.x and "1" as two arguments.
			operand := func() (expr, error) {
				if p.peek().kind != tokIdent {
					return p.parseExpr()
				}
				op := []string{p.next().val}
				for p.peek().kind == tokDot && p.peekAt(1).kind == tokIdent {
					p.pos += 2
					op = append(op, p.toks[p.pos-1].val)
				}
				return expr{namespace: op[0], path: op[1:]}, nil
			}
			for p.peek().kind == tokIdent || p.peek().kind == tokString || p.peek().kind == tokNumber {
				if p.peek().kind == tokIdent && p.peekAt(1).kind == tokEquals {
					key := p.next().val
					p.next() // consume '='
					val, err := operand()
					if err != nil {
						return expr{}, err
					}
					kwargs[key] = val
					continue
				}
				arg, err := operand()
				if err != nil {
					return expr{}, err
				}
				args = append(args, arg)
			}
			return expr{helper: helperName, args: args, kwargs: kwargs}, nil
		}
		return base, nil
	default:
		return expr{}, fmt.Errorf("expected expression, got unexpected token")
	}
}
