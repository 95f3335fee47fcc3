// internal/browser/pagescript/pagescript.go
package pagescript

import (
	"errors"
	"fmt"
	"iter"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/tabquery/internal/traversal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// source walks the chain inside the page the same way traversal.Engine does
// from Go. It resolves to an envelope of result records plus the selector
// that failed to parse, if any. Inputs arrive as JSON string literals holding
// JSON, so nothing the caller passes is spliced into code.
const source = `(async () => {
  const selectors = JSON.parse(%s);
  const modifyScript = JSON.parse(%s);
  const options = JSON.parse(%s);
  const results = [];
  const syntaxFailure = {};

  const render = (v) => {
    if (v === undefined || v === null) return '';
    if (typeof v === 'string') return v;
    if (typeof Element !== 'undefined' && v instanceof Element) return v.outerHTML;
    if (typeof v === 'object') {
      try {
        const s = JSON.stringify(v);
        if (s !== undefined) return s;
      } catch (_) {}
    }
    return String(v);
  };

  const act = async function (e, i, n) { return eval(modifyScript); };

  const frameDocument = (el) => {
    if (el.tagName !== 'IFRAME' && el.tagName !== 'FRAME') return undefined;
    try { return el.contentDocument || null; } catch (_) { return null; }
  };

  const emit = async (e, i, n, depth) => {
    if (!modifyScript) {
      results.push({ kind: 'markup', value: e.outerHTML, index: i, depth: depth });
      return;
    }
    try {
      results.push({ kind: 'value', value: render(await act(e, i, n)), index: i, depth: depth });
    } catch (err) {
      results.push({ kind: 'error', value: err + '', index: i, depth: depth });
    }
  };

  const full = () => options.limit > 0 && results.length >= options.limit;

  const visit = async (root, depth) => {
    if (depth >= selectors.length || full()) return;
    let nodes;
    try {
      nodes = root.querySelectorAll(selectors[depth]);
    } catch (err) {
      if (err && err.name === 'SyntaxError') {
        syntaxFailure.selector = selectors[depth];
        syntaxFailure.message = String(err);
        throw syntaxFailure;
      }
      throw err;
    }
    const all = Array.from(nodes);
    const last = depth === selectors.length - 1;
    for (let i = 0; i < all.length && !full(); i++) {
      const e = all[i];
      if (e.shadowRoot) {
        if (last && options.yieldHostMatches) await emit(e, i, all, depth);
        await visit(e.shadowRoot, depth + 1);
        continue;
      }
      const doc = frameDocument(e);
      if (doc !== undefined) {
        if (last && options.yieldHostMatches) await emit(e, i, all, depth);
        if (doc !== null) await visit(doc, depth + 1);
        continue;
      }
      if (last) {
        await emit(e, i, all, depth);
        continue;
      }
      if (options.descendLightDOM) await visit(e, depth + 1);
    }
  };

  try {
    await visit(document, 0);
  } catch (err) {
    if (err !== syntaxFailure) throw err;
    return { results: results, selectorError: { selector: syntaxFailure.selector, message: syntaxFailure.message } };
  }
  return { results: results, selectorError: null };
})()`

// Envelope is what the page script resolves to.
type Envelope struct {
	Results       []Record         `json:"results"`
	SelectorError *SelectorFailure `json:"selectorError"`
}

// Record is one result as the page reports it.
type Record struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
	Index int    `json:"index"`
	Depth int    `json:"depth"`
}

// SelectorFailure names the selector querySelectorAll rejected.
type SelectorFailure struct {
	Selector string `json:"selector"`
	Message  string `json:"message"`
}

type scriptOptions struct {
	YieldHostMatches bool `json:"yieldHostMatches"`
	DescendLightDOM  bool `json:"descendLightDOM"`
	Limit            int  `json:"limit"`
}

// Build returns an expression that runs the whole traversal in the page and
// evaluates to a promise of an Envelope.
func Build(chain traversal.SelectorChain, script string, opts traversal.Options) (string, error) {
	if err := chain.Validate(); err != nil {
		return "", err
	}
	selectors, err := doubleEncode(chain)
	if err != nil {
		return "", fmt.Errorf("encoding selectors: %w", err)
	}
	modify, err := doubleEncode(script)
	if err != nil {
		return "", fmt.Errorf("encoding action script: %w", err)
	}
	options, err := doubleEncode(scriptOptions{
		YieldHostMatches: opts.YieldHostMatches,
		DescendLightDOM:  opts.DescendLightDOM,
		Limit:            opts.Limit,
	})
	if err != nil {
		return "", fmt.Errorf("encoding options: %w", err)
	}
	return fmt.Sprintf(source, selectors, modify, options), nil
}

// doubleEncode renders v as JSON and then as a JSON string literal holding
// that JSON, ready to be passed to JSON.parse in script text.
func doubleEncode(v any) (string, error) {
	inner, err := json.MarshalToString(v)
	if err != nil {
		return "", err
	}
	return json.MarshalToString(inner)
}

// Decode turns the JSON form of an Envelope into results. A selector the
// page rejected is returned as a *traversal.SelectorSyntaxError alongside
// the results produced before it.
func Decode(raw []byte) ([]traversal.MatchResult, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding page script result: %w", err)
	}

	results := make([]traversal.MatchResult, 0, len(env.Results))
	for _, rec := range env.Results {
		res := traversal.MatchResult{
			Kind:  traversal.Kind(rec.Kind),
			Value: rec.Value,
			Index: rec.Index,
			Depth: rec.Depth,
		}
		switch res.Kind {
		case traversal.KindMarkup, traversal.KindValue:
		case traversal.KindError:
			res.Err = &traversal.ActionScriptError{Index: rec.Index, Message: rec.Value}
		default:
			return nil, fmt.Errorf("decoding page script result: unknown kind %q", rec.Kind)
		}
		results = append(results, res)
	}

	if f := env.SelectorError; f != nil {
		return results, &traversal.SelectorSyntaxError{Selector: f.Selector, Err: errors.New(f.Message)}
	}
	return results, nil
}

// Sequence replays decoded results as a traversal sequence, ending with err
// when it is not nil.
func Sequence(results []traversal.MatchResult, err error) iter.Seq2[traversal.MatchResult, error] {
	return func(yield func(traversal.MatchResult, error) bool) {
		for _, res := range results {
			if !yield(res, nil) {
				return
			}
		}
		if err != nil {
			yield(traversal.MatchResult{}, err)
		}
	}
}
