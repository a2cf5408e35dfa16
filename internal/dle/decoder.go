package dle

// Source yields raw bytes from a timed byte stream.
// ok is false when the read timeout elapsed before a byte arrived.
type Source interface {
	ReadRaw() (b byte, ok bool, err error)
}

// TokenKind classifies what Next read from a Source.
type TokenKind int

const (
	// TokenNone means no byte arrived before the read timeout.
	TokenNone TokenKind = iota
	// TokenData is one logical body byte.
	TokenData
	// TokenEscape is an escape sequence; Value holds the escape character.
	TokenEscape
)

func (k TokenKind) String() string {
	switch k {
	case TokenNone:
		return "none"
	case TokenData:
		return "data"
	case TokenEscape:
		return "escape"
	default:
		return "unknown"
	}
}

// Token is a single decoded unit of a stuffed stream.
type Token struct {
	Kind  TokenKind
	Value byte
}

// Next reads one logical byte from src.
//
// A byte other than DLE is returned verbatim. DLE DLE collapses to a single
// DLE. DLE followed by any other byte yields a TokenEscape carrying that byte.
// A timeout on either read yields TokenNone, including the case where the
// first DLE of a pair arrived and its partner did not.
func Next(src Source) (Token, error) {
	first, ok, err := src.ReadRaw()
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{Kind: TokenNone}, nil
	}
	if first != DLE {
		return Token{Kind: TokenData, Value: first}, nil
	}

	second, ok, err := src.ReadRaw()
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{Kind: TokenNone}, nil
	}
	if second == DLE {
		return Token{Kind: TokenData, Value: DLE}, nil
	}
	return Token{Kind: TokenEscape, Value: second}, nil
}
