package nl2sql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokQuoted
	tokNumber
	tokPunct
)

type sqlToken struct {
	kind tokenKind
	text string
	pos  int
}

// fromTerminators end the relation list of a FROM clause at the same depth.
var fromTerminators = map[string]struct{}{
	"where": {}, "group": {}, "order": {}, "limit": {}, "offset": {}, "having": {},
	"union": {}, "except": {}, "intersect": {}, "qualify": {}, "window": {}, "select": {},
}

type relationRef struct {
	name string
	pos  int
}

type relationRefs struct {
	names []relationRef
	// unnamed holds relations that are not a plain identifier: string
	// literals (file scans), quoted identifiers and anything else.
	unnamed []string
}

type relationScope struct {
	inFrom   bool
	expect   bool
	funcArgs bool
}

// tableReferences walks the token stream and reports every relation that
// follows FROM, JOIN or a comma inside a FROM list, at any nesting depth.
// FROM inside function arguments (EXTRACT, TRIM, SUBSTRING) is not a relation.
func tableReferences(text string) relationRefs {
	var out relationRefs
	stack := []relationScope{{}}
	var prev sqlToken
	hasPrev := false

	for _, tok := range tokenizeSQL(text) {
		cur := &stack[len(stack)-1]
		switch {
		case tok.kind == tokPunct && tok.text == "(":
			isFunc := hasPrev && prev.kind == tokWord && !cur.expect && !isClauseWord(prev.text)
			cur.expect = false
			stack = append(stack, relationScope{funcArgs: isFunc})
		case tok.kind == tokPunct && tok.text == ")":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case tok.kind == tokPunct && tok.text == ",":
			if cur.expect {
				out.unnamed = append(out.unnamed, tok.text)
				cur.expect = false
			}
			if cur.inFrom && !cur.funcArgs {
				cur.expect = true
			}
		case tok.kind == tokWord:
			word := strings.ToLower(tok.text)
			if cur.funcArgs {
				if word == "select" {
					cur.funcArgs = false
				}
				break
			}
			if word == "from" || word == "join" {
				cur.inFrom = true
				cur.expect = true
				break
			}
			if cur.expect {
				if word == "lateral" {
					break
				}
				out.names = append(out.names, relationRef{name: word, pos: tok.pos})
				cur.expect = false
				break
			}
			if _, ok := fromTerminators[word]; ok {
				cur.inFrom = false
			}
		default:
			if cur.expect && !cur.funcArgs {
				out.unnamed = append(out.unnamed, tok.text)
				cur.expect = false
			}
		}
		prev = tok
		hasPrev = true
	}
	return out
}

func isClauseWord(word string) bool {
	_, ok := clauseWords[strings.ToLower(word)]
	return ok
}

// tokenizeSQL splits text into words (dotted names kept whole), literals and
// single punctuation characters. Comments are dropped. Positions are byte
// offsets into text.
func tokenizeSQL(text string) []sqlToken {
	var tokens []sqlToken
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case strings.HasPrefix(text[i:], "--"):
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				i = len(text)
				break
			}
			i += end + 1
		case strings.HasPrefix(text[i:], "/*"):
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				i = len(text)
				break
			}
			i += 2 + end + 2
		case r == '\'' || r == '"':
			start := i
			i = skipQuoted(text, i)
			kind := tokString
			if r == '"' {
				kind = tokQuoted
			}
			tokens = append(tokens, sqlToken{kind: kind, text: text[start:i], pos: start})
		case isIdentStart(r):
			start := i
			kind := tokWord
			for {
				for i < len(text) {
					next, width := utf8.DecodeRuneInString(text[i:])
					if !isIdentPart(next) {
						break
					}
					i += width
				}
				if i+1 < len(text) && text[i] == '.' {
					if text[i+1] == '"' {
						i = skipQuoted(text, i+1)
						kind = tokQuoted
						continue
					}
					if next, _ := utf8.DecodeRuneInString(text[i+1:]); isIdentStart(next) {
						i++
						continue
					}
				}
				break
			}
			tokens = append(tokens, sqlToken{kind: kind, text: text[start:i], pos: start})
		case r >= '0' && r <= '9':
			start := i
			for i < len(text) && (text[i] >= '0' && text[i] <= '9' || text[i] == '.') {
				i++
			}
			tokens = append(tokens, sqlToken{kind: tokNumber, text: text[start:i], pos: start})
		default:
			tokens = append(tokens, sqlToken{kind: tokPunct, text: text[i : i+size], pos: i})
			i += size
		}
	}
	return tokens
}

// skipQuoted returns the offset just past the literal opened at text[start].
// A doubled quote character is an escaped quote.
func skipQuoted(text string, start int) int {
	quote := text[start]
	i := start + 1
	for i < len(text) {
		if text[i] == quote {
			if i+1 < len(text) && text[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(text)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
