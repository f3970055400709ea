package dynamofake

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

var comparators = []string{"<=", ">=", "<>", "=", "<", ">"}

// evalCondition reports whether item satisfies expr. An empty expression is
// always satisfied; a nil item behaves like an item with no attributes.
func evalCondition(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, alternative := range strings.Split(expr, " OR ") {
		alternative = strings.TrimSpace(alternative)
		if strings.HasPrefix(alternative, "(") && strings.HasSuffix(alternative, ")") {
			alternative = alternative[1 : len(alternative)-1]
		}
		ok, err := evalConjunction(alternative, item, names, values)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func evalConjunction(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), item, names, values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, item Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if args, ok := call(clause, "attribute_not_exists"); ok {
		_, exists := item[attrName(args[0], names)]
		return !exists, nil
	}
	if args, ok := call(clause, "attribute_exists"); ok {
		_, exists := item[attrName(args[0], names)]
		return exists, nil
	}
	if args, ok := call(clause, "begins_with"); ok && len(args) == 2 {
		left, right := operand(args[0], item, names, values), operand(args[1], item, names, values)
		ls, lok := left.(*types.AttributeValueMemberS)
		rs, rok := right.(*types.AttributeValueMemberS)
		return lok && rok && strings.HasPrefix(ls.Value, rs.Value), nil
	}

	for _, op := range comparators {
		idx := strings.Index(clause, " "+op+" ")
		if idx < 0 {
			continue
		}
		left := operand(clause[:idx], item, names, values)
		right := operand(clause[idx+len(op)+2:], item, names, values)
		if op == "<>" {
			return left == nil || right == nil || !equal(left, right), nil
		}
		if left == nil || right == nil {
			return false, nil
		}
		cmp := compare(left, right)
		switch op {
		case "=":
			return equal(left, right), nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
	}
	return false, fmt.Errorf("dynamofake: unsupported condition %q", clause)
}

var updateSection = regexp.MustCompile(`\b(SET|ADD|REMOVE)\s+`)

func applyUpdateExpression(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	locs := updateSection.FindAllStringSubmatchIndex(expr, -1)
	if len(locs) == 0 {
		return fmt.Errorf("dynamofake: unsupported update %q", expr)
	}
	for i, loc := range locs {
		keyword := expr[loc[2]:loc[3]]
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(expr[loc[1]:end])
		for _, action := range splitTopLevel(body) {
			if err := applyAction(keyword, action, item, names, values); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyAction(keyword, action string, item Item, names map[string]string, values map[string]types.AttributeValue) error {
	switch keyword {
	case "SET":
		parts := strings.SplitN(action, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("dynamofake: bad SET action %q", action)
		}
		v, err := setValue(strings.TrimSpace(parts[1]), item, names, values)
		if err != nil {
			return err
		}
		item[attrName(parts[0], names)] = v
	case "ADD":
		fields := strings.Fields(action)
		if len(fields) != 2 {
			return fmt.Errorf("dynamofake: bad ADD action %q", action)
		}
		name := attrName(fields[0], names)
		delta := operand(fields[1], item, names, values)
		current, ok := item[name]
		if !ok {
			item[name] = delta
			return nil
		}
		sum, err := arith(current, delta, "+")
		if err != nil {
			return err
		}
		item[name] = sum
	case "REMOVE":
		delete(item, attrName(action, names))
	}
	return nil
}

func setValue(rhs string, item Item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		if idx := strings.Index(rhs, op); idx > 0 {
			left, err := setValue(strings.TrimSpace(rhs[:idx]), item, names, values)
			if err != nil {
				return nil, err
			}
			right, err := setValue(strings.TrimSpace(rhs[idx+3:]), item, names, values)
			if err != nil {
				return nil, err
			}
			return arith(left, right, strings.TrimSpace(op))
		}
	}
	if args, ok := call(rhs, "if_not_exists"); ok && len(args) == 2 {
		if v, exists := item[attrName(args[0], names)]; exists {
			return v, nil
		}
		return operand(args[1], item, names, values), nil
	}
	v := operand(rhs, item, names, values)
	if v == nil {
		return nil, fmt.Errorf("dynamofake: unresolved operand %q", rhs)
	}
	return v, nil
}

func arith(a, b types.AttributeValue, op string) (types.AttributeValue, error) {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if !aok || !bok {
		return nil, fmt.Errorf("dynamofake: arithmetic on non-number operands")
	}
	x, err := decimal.NewFromString(an.Value)
	if err != nil {
		return nil, err
	}
	y, err := decimal.NewFromString(bn.Value)
	if err != nil {
		return nil, err
	}
	if op == "-" {
		return &types.AttributeValueMemberN{Value: x.Sub(y).String()}, nil
	}
	return &types.AttributeValueMemberN{Value: x.Add(y).String()}, nil
}

// call matches "fn(a, b)" and returns its trimmed arguments.
func call(expr, fn string) ([]string, bool) {
	if !strings.HasPrefix(expr, fn+"(") || !strings.HasSuffix(expr, ")") {
		return nil, false
	}
	inner := expr[len(fn)+1 : len(expr)-1]
	args := strings.Split(inner, ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return args, true
}

func splitTopLevel(body string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(body[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func attrName(token string, names map[string]string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func operand(token string, item Item, names map[string]string, values map[string]types.AttributeValue) types.AttributeValue {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, ":") {
		return values[token]
	}
	return item[attrName(token, names)]
}

func equal(a, b types.AttributeValue) bool {
	if an, ok := a.(*types.AttributeValueMemberN); ok {
		if bn, ok := b.(*types.AttributeValueMemberN); ok {
			return compareNumbers(an.Value, bn.Value) == 0
		}
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b types.AttributeValue) int {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return strings.Compare(av.Value, bv.Value)
		}
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			return compareNumbers(av.Value, bv.Value)
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func compareNumbers(a, b string) int {
	x, errX := decimal.NewFromString(a)
	y, errY := decimal.NewFromString(b)
	if errX != nil || errY != nil {
		return strings.Compare(a, b)
	}
	return x.Cmp(y)
}
