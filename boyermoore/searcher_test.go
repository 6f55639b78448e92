package boyermoore

import "testing"

func TestSearchFindsNeedle(t *testing.T) {
	s := NewSearcher([]byte("--boundary"))
	hay := []byte("preamble text\r\n--boundary\r\nmore")
	idx := s.Search(hay)
	if idx != 15 {
		t.Fatalf("expected match at 15, got %d", idx)
	}
}

func TestSearchNoMatch(t *testing.T) {
	s := NewSearcher([]byte("--boundary"))
	if idx := s.Search([]byte("nothing here")); idx != -1 {
		t.Fatalf("expected no match, got %d", idx)
	}
}

func TestSearchHaystackShorterThanNeedle(t *testing.T) {
	s := NewSearcher([]byte("abcdef"))
	if idx := s.Search([]byte("abc")); idx != -1 {
		t.Fatalf("expected -1, got %d", idx)
	}
}

func TestSearchEmptyNeedleMatchesAtZero(t *testing.T) {
	s := NewSearcher(nil)
	if idx := s.Search([]byte("anything")); idx != 0 {
		t.Fatalf("expected 0, got %d", idx)
	}
}

func TestSearchSelfOverlappingNeedle(t *testing.T) {
	s := NewSearcher([]byte("abab"))
	idx := s.Search([]byte("aabab"))
	if idx != 1 {
		t.Fatalf("expected match at 1, got %d", idx)
	}
}

func TestSearchRepeatedPattern(t *testing.T) {
	s := NewSearcher([]byte("aa"))
	idx := s.Search([]byte("baaaab"))
	if idx != 1 {
		t.Fatalf("expected match at 1, got %d", idx)
	}
}

func TestNeedleReturnsCopy(t *testing.T) {
	needle := []byte("xyz")
	s := NewSearcher(needle)
	needle[0] = 'Z'
	if string(s.Needle()) != "xyz" {
		t.Fatalf("Searcher should have copied the needle, got %q", s.Needle())
	}
}
