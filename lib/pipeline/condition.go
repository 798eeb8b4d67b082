// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// EvaluateCondition evaluates an if expression against build
// variables.
//
// Grammar:
//
//	expr       = and { "||" and }
//	and        = unary { "&&" unary }
//	unary      = "!" unary | primary
//	primary    = "(" expr ")" | operand [ ( "==" | "!=" ) operand | ( "=~" | "!~" ) regex ]
//	operand    = identifier | identifier "(" string ")" | string | "true" | "false" | "null" | number
//	regex      = "/" pattern "/" [ "i" ]
//
// Identifiers such as build.branch are looked up in vars and must
// exist. build.env("NAME") looks up "build.env.NAME" and yields null
// when missing. A bare operand is true unless it is false, null, or
// the empty string.
func EvaluateCondition(expression string, vars map[string]string) (bool, error) {
	tokens, err := tokenizeCondition(expression)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expression, err)
	}
	parser := &conditionParser{tokens: tokens, vars: vars}
	result, err := parser.parseOr()
	if err == nil && parser.position < len(parser.tokens) {
		err = fmt.Errorf("unexpected %q", parser.tokens[parser.position].text)
	}
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expression, err)
	}
	return result.truthy(), nil
}

type tokenKind int

const (
	tokenIdentifier tokenKind = iota
	tokenString
	tokenNumber
	tokenRegex
	tokenOperator
	tokenOpenParen
	tokenCloseParen
)

type conditionToken struct {
	kind tokenKind
	text string

	// caseInsensitive is set for /pattern/i regex literals.
	caseInsensitive bool
}

func tokenizeCondition(expression string) ([]conditionToken, error) {
	var tokens []conditionToken
	runes := []rune(expression)
	for index := 0; index < len(runes); {
		current := runes[index]
		switch {
		case unicode.IsSpace(current):
			index++

		case current == '(':
			tokens = append(tokens, conditionToken{kind: tokenOpenParen, text: "("})
			index++

		case current == ')':
			tokens = append(tokens, conditionToken{kind: tokenCloseParen, text: ")"})
			index++

		case current == '\'' || current == '"':
			var builder strings.Builder
			index++
			closed := false
			for index < len(runes) {
				if runes[index] == '\\' && index+1 < len(runes) {
					builder.WriteRune(runes[index+1])
					index += 2
					continue
				}
				if runes[index] == current {
					closed = true
					index++
					break
				}
				builder.WriteRune(runes[index])
				index++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, conditionToken{kind: tokenString, text: builder.String()})

		case current == '/' && expectsOperand(tokens):
			var builder strings.Builder
			index++
			closed := false
			for index < len(runes) {
				if runes[index] == '\\' && index+1 < len(runes) && runes[index+1] == '/' {
					builder.WriteRune('/')
					index += 2
					continue
				}
				if runes[index] == '/' {
					closed = true
					index++
					break
				}
				builder.WriteRune(runes[index])
				index++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated regular expression")
			}
			token := conditionToken{kind: tokenRegex, text: builder.String()}
			if index < len(runes) && runes[index] == 'i' {
				token.caseInsensitive = true
				index++
			}
			tokens = append(tokens, token)

		case strings.ContainsRune("=!&|", current):
			if index+1 < len(runes) {
				pair := string(runes[index : index+2])
				switch pair {
				case "==", "!=", "=~", "!~", "&&", "||":
					tokens = append(tokens, conditionToken{kind: tokenOperator, text: pair})
					index += 2
					continue
				}
			}
			if current == '!' {
				tokens = append(tokens, conditionToken{kind: tokenOperator, text: "!"})
				index++
				continue
			}
			return nil, fmt.Errorf("unexpected %q", string(current))

		case unicode.IsDigit(current) || current == '-':
			start := index
			index++
			for index < len(runes) && (unicode.IsDigit(runes[index]) || runes[index] == '.') {
				index++
			}
			tokens = append(tokens, conditionToken{kind: tokenNumber, text: string(runes[start:index])})

		case unicode.IsLetter(current) || current == '_':
			start := index
			for index < len(runes) && (unicode.IsLetter(runes[index]) || unicode.IsDigit(runes[index]) || runes[index] == '_' || runes[index] == '.') {
				index++
			}
			tokens = append(tokens, conditionToken{kind: tokenIdentifier, text: string(runes[start:index])})

		default:
			return nil, fmt.Errorf("unexpected %q", string(current))
		}
	}
	return tokens, nil
}

// expectsOperand reports whether the next token starts an operand,
// which is where "/" opens a regex literal.
func expectsOperand(tokens []conditionToken) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	return last.kind == tokenOperator || last.kind == tokenOpenParen
}

// conditionValue is a string, a boolean, or null.
type conditionValue struct {
	text   string
	isBool bool
	flag   bool
	isNull bool
}

func (v conditionValue) truthy() bool {
	switch {
	case v.isNull:
		return false
	case v.isBool:
		return v.flag
	default:
		return v.text != ""
	}
}

func (v conditionValue) String() string {
	switch {
	case v.isNull:
		return ""
	case v.isBool:
		if v.flag {
			return "true"
		}
		return "false"
	default:
		return v.text
	}
}

func boolValue(flag bool) conditionValue {
	return conditionValue{isBool: true, flag: flag}
}

type conditionParser struct {
	tokens   []conditionToken
	position int
	vars     map[string]string
}

func (p *conditionParser) peek() (conditionToken, bool) {
	if p.position >= len(p.tokens) {
		return conditionToken{}, false
	}
	return p.tokens[p.position], true
}

func (p *conditionParser) peekOperator(text string) bool {
	token, ok := p.peek()
	return ok && token.kind == tokenOperator && token.text == text
}

func (p *conditionParser) parseOr() (conditionValue, error) {
	left, err := p.parseAnd()
	if err != nil {
		return conditionValue{}, err
	}
	for p.peekOperator("||") {
		p.position++
		right, err := p.parseAnd()
		if err != nil {
			return conditionValue{}, err
		}
		left = boolValue(left.truthy() || right.truthy())
	}
	return left, nil
}

func (p *conditionParser) parseAnd() (conditionValue, error) {
	left, err := p.parseUnary()
	if err != nil {
		return conditionValue{}, err
	}
	for p.peekOperator("&&") {
		p.position++
		right, err := p.parseUnary()
		if err != nil {
			return conditionValue{}, err
		}
		left = boolValue(left.truthy() && right.truthy())
	}
	return left, nil
}

func (p *conditionParser) parseUnary() (conditionValue, error) {
	if p.peekOperator("!") {
		p.position++
		operand, err := p.parseUnary()
		if err != nil {
			return conditionValue{}, err
		}
		return boolValue(!operand.truthy()), nil
	}
	return p.parsePrimary()
}

func (p *conditionParser) parsePrimary() (conditionValue, error) {
	token, ok := p.peek()
	if !ok {
		return conditionValue{}, fmt.Errorf("unexpected end of expression")
	}
	if token.kind == tokenOpenParen {
		p.position++
		inner, err := p.parseOr()
		if err != nil {
			return conditionValue{}, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokenCloseParen {
			return conditionValue{}, fmt.Errorf("missing closing parenthesis")
		}
		p.position++
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return conditionValue{}, err
	}

	operator, ok := p.peek()
	if !ok || operator.kind != tokenOperator {
		return left, nil
	}
	switch operator.text {
	case "==", "!=":
		p.position++
		right, err := p.parseOperand()
		if err != nil {
			return conditionValue{}, err
		}
		equal := valuesEqual(left, right)
		if operator.text == "!=" {
			equal = !equal
		}
		return boolValue(equal), nil
	case "=~", "!~":
		p.position++
		pattern, ok := p.peek()
		if !ok || pattern.kind != tokenRegex {
			return conditionValue{}, fmt.Errorf("%s requires a /regex/ operand", operator.text)
		}
		p.position++
		source := pattern.text
		if pattern.caseInsensitive {
			source = "(?i)" + source
		}
		compiled, err := regexp.Compile(source)
		if err != nil {
			return conditionValue{}, fmt.Errorf("invalid regular expression /%s/: %w", pattern.text, err)
		}
		matched := !left.isNull && compiled.MatchString(left.String())
		if operator.text == "!~" {
			matched = !matched
		}
		return boolValue(matched), nil
	}
	return left, nil
}

func (p *conditionParser) parseOperand() (conditionValue, error) {
	token, ok := p.peek()
	if !ok {
		return conditionValue{}, fmt.Errorf("unexpected end of expression")
	}
	p.position++

	switch token.kind {
	case tokenString, tokenNumber:
		return conditionValue{text: token.text}, nil
	case tokenIdentifier:
		switch token.text {
		case "true":
			return boolValue(true), nil
		case "false":
			return boolValue(false), nil
		case "null", "nil":
			return conditionValue{isNull: true}, nil
		}
		if next, ok := p.peek(); ok && next.kind == tokenOpenParen {
			return p.parseCall(token.text)
		}
		value, exists := p.vars[token.text]
		if !exists {
			return conditionValue{}, fmt.Errorf("unknown variable %q", token.text)
		}
		return conditionValue{text: value}, nil
	default:
		return conditionValue{}, fmt.Errorf("unexpected %q", token.text)
	}
}

// parseCall handles function-style lookups such as build.env("X").
func (p *conditionParser) parseCall(name string) (conditionValue, error) {
	p.position++ // "("
	argument, ok := p.peek()
	if !ok || argument.kind != tokenString {
		return conditionValue{}, fmt.Errorf("%s() takes one string argument", name)
	}
	p.position++
	closing, ok := p.peek()
	if !ok || closing.kind != tokenCloseParen {
		return conditionValue{}, fmt.Errorf("%s(): missing closing parenthesis", name)
	}
	p.position++

	switch name {
	case "build.env", "build.meta_data":
		value, exists := p.vars[name+"."+argument.text]
		if !exists {
			return conditionValue{isNull: true}, nil
		}
		return conditionValue{text: value}, nil
	default:
		return conditionValue{}, fmt.Errorf("unknown function %s()", name)
	}
}

func valuesEqual(left, right conditionValue) bool {
	if left.isNull || right.isNull {
		return left.isNull == right.isNull
	}
	return left.String() == right.String()
}
